package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Формат файла сессии: [Header][ECG records][IMU records], little-endian.
const (
	Magic   uint32 = 0x45434744 // "ECGD"
	Version uint16 = 1

	HeaderSize    = 28
	ECGRecordSize = 6
	IMURecordSize = 6

	// Смещения счётчиков внутри заголовка, патчатся при финализации
	OffsetNumECG = 20
	OffsetNumIMU = 24
	CountsSize   = 8
)

// Масштабы кодирования. Изменение любого из них ломает формат и требует поднять Version.
const (
	ECGScale = 6553.6 // отсчётов на мВ
	IMUScale = 2048.0 // отсчётов на g (диапазон ±16 g)
)

var (
	ErrShortHeader        = errors.New("session header is too short")
	ErrBadMagic           = errors.New("bad session file magic")
	ErrUnsupportedVersion = errors.New("unsupported session file version")
	ErrTruncated          = errors.New("session file is truncated")
	ErrSizeMismatch       = errors.New("session file size does not match header counts")
)

// Channel идентифицирует поток отсчётов
type Channel uint8

const (
	ChannelECG Channel = iota
	ChannelIMU
)

func (c Channel) String() string {
	switch c {
	case ChannelECG:
		return "ecg"
	case ChannelIMU:
		return "imu"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// RecordSize возвращает размер одной записи канала в байтах
func (c Channel) RecordSize() int {
	if c == ChannelIMU {
		return IMURecordSize
	}
	return ECGRecordSize
}

// Scale возвращает масштаб физической величины канала
func (c Channel) Scale() float64 {
	if c == ChannelIMU {
		return IMUScale
	}
	return ECGScale
}

// Header - заголовок файла сессии
type Header struct {
	Magic          uint32
	Version        uint16
	DeviceID       uint16
	SessionID      uint32
	TimestampStart uint32
	ECGRate        uint16
	IMURate        uint16
	NumECG         uint32
	NumIMU         uint32
}

// NewHeader создает заголовок-заглушку с нулевыми счётчиками
func NewHeader(deviceID uint16, sessionID uint32, ecgRate, imuRate uint16) Header {
	return Header{
		Magic:          Magic,
		Version:        Version,
		DeviceID:       deviceID,
		SessionID:      sessionID,
		TimestampStart: sessionID,
		ECGRate:        ecgRate,
		IMURate:        imuRate,
	}
}

func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Magic)
	le.PutUint16(b[4:], h.Version)
	le.PutUint16(b[6:], h.DeviceID)
	le.PutUint32(b[8:], h.SessionID)
	le.PutUint32(b[12:], h.TimestampStart)
	le.PutUint16(b[16:], h.ECGRate)
	le.PutUint16(b[18:], h.IMURate)
	le.PutUint32(b[OffsetNumECG:], h.NumECG)
	le.PutUint32(b[OffsetNumIMU:], h.NumIMU)
	return b, nil
}

func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	le := binary.LittleEndian
	*h = Header{
		Magic:          le.Uint32(b[0:]),
		Version:        le.Uint16(b[4:]),
		DeviceID:       le.Uint16(b[6:]),
		SessionID:      le.Uint32(b[8:]),
		TimestampStart: le.Uint32(b[12:]),
		ECGRate:        le.Uint16(b[16:]),
		IMURate:        le.Uint16(b[18:]),
		NumECG:         le.Uint32(b[OffsetNumECG:]),
		NumIMU:         le.Uint32(b[OffsetNumIMU:]),
	}
	return nil
}

// ParseHeader разбирает заголовок и проверяет magic и версию до того,
// как кто-либо доверится счётчикам.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if err := h.UnmarshalBinary(b); err != nil {
		return Header{}, err
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("%w: 0x%08X", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// EncodeCounts кодирует оба счётчика для записи по смещению OffsetNumECG
func EncodeCounts(numECG, numIMU uint32) []byte {
	b := make([]byte, CountsSize)
	binary.LittleEndian.PutUint32(b[0:], numECG)
	binary.LittleEndian.PutUint32(b[OffsetNumIMU-OffsetNumECG:], numIMU)
	return b
}

// ExpectedSize - размер финализированного файла для заданных счётчиков
func ExpectedSize(numECG, numIMU uint32) int64 {
	return HeaderSize + int64(numECG)*ECGRecordSize + int64(numIMU)*IMURecordSize
}

// CheckSize сверяет фактический размер файла со счётчиками заголовка
func CheckSize(h Header, size int64) error {
	if want := ExpectedSize(h.NumECG, h.NumIMU); size != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, size, want)
	}
	return nil
}
