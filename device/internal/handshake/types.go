package handshake

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultRequestTopic = "holter/upload-request"
	ResponseTopicPrefix = "holter/upload-url/"
	DefaultTimeout      = 60 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	StatusSuccess       = "success"
)

var (
	ErrTimeout       = errors.New("handshake timeout")
	ErrPublishFailed = errors.New("handshake publish failed")
)

// ResponseTopic - фиксированный топик ответа для устройства
func ResponseTopic(deviceID string) string {
	return ResponseTopicPrefix + deviceID
}

// PubSub - канал публикации/подписки. Service нужно вызывать регулярно.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Service() error
}

// Request - описание завершенной сессии
type Request struct {
	DeviceID       string `json:"device_id"`
	SessionID      string `json:"session_id"`
	Timestamp      string `json:"timestamp"`
	FileSize       int64  `json:"file_size"`
	ReadyForUpload bool   `json:"ready_for_upload"`
}

// Response - ответ облака с адресом загрузки
type Response struct {
	Status    string `json:"status"`
	UploadURL string `json:"upload_url"`
	S3Key     string `json:"s3_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Outcome - чем закончился обмен
type Outcome int

const (
	OutcomeDestinationReceived Outcome = iota
	OutcomeTimeout
	OutcomePublishFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDestinationReceived:
		return "destination_received"
	case OutcomeTimeout:
		return "timeout"
	case OutcomePublishFailed:
		return "publish_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Result struct {
	Outcome     Outcome
	Destination string
	Response    Response
	Elapsed     time.Duration
	Ignored     int64
}

type Config struct {
	DeviceID     string
	RequestTopic string
	Timeout      time.Duration
	PollInterval time.Duration
}
