package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Krimson/holter-monitory/device/internal/buffer"
)

// State - состояние записи одной сессии
type State int

const (
	StateIdle State = iota
	StateOpen
	StateStreaming  // заголовок-заглушка записан
	StateFinalizing // идет патч счётчиков
	StateClosed     // файл финализирован
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const DefaultBufferSize = 8192

var (
	ErrInvalidState         = errors.New("invalid writer state")
	ErrChannelNotConfigured = errors.New("channel not configured for session")
	ErrIntegrityMismatch    = errors.New("integrity mismatch")
)

// Session описывает файл, который пишет Writer
type Session struct {
	Path      string
	DeviceID  uint16
	SessionID uint32
	ECGRate   uint16
	IMURate   uint16
}

// SpoolPath - временный файл для блока IMU
func (s Session) SpoolPath() string {
	return strings.TrimSuffix(s.Path, ".bin") + ".imu"
}

type Options struct {
	BufferSize int
}

// IntegrityError - результат проверки после финализации не совпал с ожидаемым
type IntegrityError struct {
	Path     string
	WantECG  uint32
	WantIMU  uint32
	GotECG   uint32
	GotIMU   uint32
	WantSize int64
	GotSize  int64
	Err      error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity mismatch in %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("integrity mismatch in %s: counts (%d, %d) want (%d, %d), size %d want %d",
		e.Path, e.GotECG, e.GotIMU, e.WantECG, e.WantIMU, e.GotSize, e.WantSize)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityMismatch }
func (e *IntegrityError) Unwrap() error        { return e.Err }

// Report - итог финализации
type Report struct {
	Path          string       `json:"path"`
	NumECG        uint32       `json:"num_ecg"`
	NumIMU        uint32       `json:"num_imu"`
	FileSize      int64        `json:"file_size"`
	ExpectedSize  int64        `json:"expected_size"`
	PartialWrites int64        `json:"partial_writes"`
	Persisting    bool         `json:"persisting"`
	ECG           buffer.Stats `json:"ecg_buffer"`
	IMU           buffer.Stats `json:"imu_buffer"`
}
