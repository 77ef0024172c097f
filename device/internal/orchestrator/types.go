package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/handshake"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/transfer"
)

// State - состояние конвейера захвата и загрузки
type State string

const (
	StateInit                  State = "init"
	StateCapturing             State = "capturing"
	StateRequestingDestination State = "requesting_destination"
	StateTransferring          State = "transferring"
	StateComplete              State = "complete"
	StateError                 State = "error"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Reason - код причины терминальной ошибки
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonStorageUnavailable Reason = "storage_unavailable"
	// ReasonPartialWrite только фиксируется в журнале: захват продолжается,
	// сессию в Error переводит проверка при Finalize
	ReasonPartialWrite       Reason = "partial_write"
	ReasonIntegrityMismatch  Reason = "integrity_mismatch"
	ReasonHandshakeTimeout   Reason = "handshake_timeout"
	ReasonPublishFailed      Reason = "publish_failed"
	ReasonTransferFailed     Reason = "transfer_failed"
	ReasonAborted            Reason = "aborted"
	ReasonFatal              Reason = "fatal"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrClosed            = errors.New("orchestrator closed")
)

// SessionError - сессия завершилась в Error
type SessionError struct {
	Reason Reason
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failed (%s): %v", e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// допустимые переходы; Error достижим из любого нетерминального состояния
var transitions = map[State][]State{
	StateInit:                  {StateCapturing, StateError},
	StateCapturing:             {StateRequestingDestination, StateError},
	StateRequestingDestination: {StateTransferring, StateError},
	StateTransferring:          {StateComplete, StateError},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session - одна попытка захвата
type Session struct {
	ID        string    `json:"session_id"`
	Number    uint32    `json:"number"`
	Path      string    `json:"path"`
	ECGRateHz int       `json:"ecg_rate_hz"`
	IMURateHz int       `json:"imu_rate_hz"`
	StartedAt time.Time `json:"started_at"`
}

// Report - итог сессии с причиной и счётчиками
type Report struct {
	Session           Session                `json:"session"`
	State             State                  `json:"state"`
	Reason            Reason                 `json:"reason,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Persisting        bool                   `json:"persisting"`
	NumECG            uint32                 `json:"num_ecg"`
	NumIMU            uint32                 `json:"num_imu"`
	FileSize          int64                  `json:"file_size"`
	ExpectedSize      int64                  `json:"expected_size"`
	PartialWrites     int64                  `json:"partial_writes"`
	ReadErrors        uint64                 `json:"read_errors"`
	Channels          []sampler.ChannelStats `json:"channels,omitempty"`
	HandshakeAttempts int                    `json:"handshake_attempts"`
	TransferAttempts  int                    `json:"transfer_attempts"`
	UploadKey         string                 `json:"upload_key,omitempty"`
	TransferStatus    int                    `json:"transfer_status,omitempty"`
	Checksum          string                 `json:"checksum,omitempty"`
	FinishedAt        time.Time              `json:"finished_at"`
}

// Retryable - файл остался на карте и годен для повторной загрузки
func (r *Report) Retryable() bool {
	if r.State != StateError || !r.Persisting {
		return false
	}
	switch r.Reason {
	case ReasonHandshakeTimeout, ReasonPublishFailed, ReasonTransferFailed:
		return true
	}
	return false
}

type EventType string

const (
	EventTransition EventType = "transition"
	EventProgress   EventType = "progress"
	EventReport     EventType = "report"
)

// Progress - ход захвата
type Progress struct {
	ElapsedSec  float64 `json:"elapsed_sec"`
	DurationSec float64 `json:"duration_sec"`
	Fraction    float64 `json:"fraction"`
	NumECG      uint32  `json:"num_ecg"`
	NumIMU      uint32  `json:"num_imu"`
	Persisting  bool    `json:"persisting"`
}

// Event рассылается наблюдателям из отдельной горутины
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	From      State     `json:"from,omitempty"`
	To        State     `json:"to,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	Report    *Report   `json:"report,omitempty"`
	Time      time.Time `json:"time"`
}

// Observer получает события конвейера
type Observer interface {
	HandleEvent(ev Event)
}

// Handshaker получает адрес загрузки
type Handshaker interface {
	RequestDestination(ctx context.Context, sessionID string, startedAt time.Time, fileSize int64) (handshake.Result, error)
}

// Uploader загружает файл по адресу
type Uploader interface {
	Upload(ctx context.Context, path, destination string) (transfer.Result, error)
}

// Snapshot - копия состояния для внешних читателей
type Snapshot struct {
	State               State     `json:"state"`
	Session             *Session  `json:"session,omitempty"`
	DestinationReceived bool      `json:"destination_received"`
	Progress            *Progress `json:"progress,omitempty"`
	LastReport          *Report   `json:"last_report,omitempty"`
}
