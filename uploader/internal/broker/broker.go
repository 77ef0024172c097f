package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Krimson/holter-monitory/uploader/internal/presign"
	"github.com/Krimson/holter-monitory/uploader/internal/repository"
)

var ErrInvalidRequest = errors.New("invalid upload request")

// PubSub - транспорт запросов и ответов
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Signer выдает подписанный адрес для ключа
type Signer interface {
	PresignPut(ctx context.Context, key string) (string, error)
	Bucket() string
	Expiration() time.Duration
}

// Request - запрос устройства на адрес загрузки
type Request struct {
	DeviceID       string `json:"device_id"`
	SessionID      string `json:"session_id"`
	Timestamp      string `json:"timestamp"`
	FileSize       int64  `json:"file_size"`
	ReadyForUpload bool   `json:"ready_for_upload"`
}

// Response публикуется в holter/upload-url/<device_id>
type Response struct {
	Status    string `json:"status"`
	UploadURL string `json:"upload_url"`
	S3Key     string `json:"s3_key"`
	Bucket    string `json:"bucket"`
	ExpiresIn int    `json:"expires_in"`
	Timestamp string `json:"timestamp"`
}

type Config struct {
	RequestTopic        string
	ResponseTopicPrefix string
	Timeout             time.Duration
}

// Stats содержит счётчики обработчика
type Stats struct {
	Handled  uint64 `json:"handled"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
}

// Handler отвечает на запросы устройств подписанными адресами
type Handler struct {
	cfg    Config
	ps     PubSub
	signer Signer
	repo   repository.Repository
	now    func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewHandler(cfg Config, ps PubSub, signer Signer, repo repository.Repository) *Handler {
	if cfg.RequestTopic == "" {
		cfg.RequestTopic = "holter/upload-request"
	}
	if cfg.ResponseTopicPrefix == "" {
		cfg.ResponseTopicPrefix = "holter/upload-url/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Handler{
		cfg:    cfg,
		ps:     ps,
		signer: signer,
		repo:   repo,
		now:    time.Now,
	}
}

// Start подписывается на топик запросов
func (h *Handler) Start() error {
	if err := h.ps.Subscribe(h.cfg.RequestTopic, h.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", h.cfg.RequestTopic, err)
	}
	log.Printf("[UPLOADER] Listening for upload requests on %s", h.cfg.RequestTopic)
	return nil
}

// HandleMessage обрабатывает одно сообщение; ошибки только логируются,
// устройство в таком случае дождется своего таймаута.
func (h *Handler) HandleMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	defer cancel()

	if _, err := h.Handle(ctx, payload); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			h.count(func(s *Stats) { s.Rejected++ })
		} else {
			h.count(func(s *Stats) { s.Failed++ })
		}
		log.Printf("[ERROR] Upload request on %s: %v", topic, err)
		return
	}
	h.count(func(s *Stats) { s.Handled++ })
}

// Handle проверяет запрос, подписывает адрес, публикует ответ и сохраняет запись
func (h *Handler) Handle(ctx context.Context, payload []byte) (*repository.UploadRequest, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.DeviceID == "" || req.SessionID == "" {
		return nil, fmt.Errorf("%w: device_id and session_id are required", ErrInvalidRequest)
	}

	now := h.now().UTC()
	startedAt := now
	if req.Timestamp != "" {
		sec, err := strconv.ParseInt(req.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", ErrInvalidRequest, req.Timestamp)
		}
		startedAt = time.Unix(sec, 0).UTC()
	}

	key := presign.Key(req.DeviceID, req.SessionID, startedAt)
	url, err := h.signer.PresignPut(ctx, key)
	if err != nil {
		return nil, err
	}

	resp := Response{
		Status:    "success",
		UploadURL: url,
		S3Key:     key,
		Bucket:    h.signer.Bucket(),
		ExpiresIn: int(h.signer.Expiration().Seconds()),
		Timestamp: now.Format(time.RFC3339),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	topic := h.cfg.ResponseTopicPrefix + req.DeviceID
	if err := h.ps.Publish(topic, data); err != nil {
		return nil, fmt.Errorf("failed to publish response to %s: %w", topic, err)
	}
	log.Printf("[UPLOADER] Issued s3://%s/%s to %s (file_size=%d)", resp.Bucket, key, req.DeviceID, req.FileSize)

	record := &repository.UploadRequest{
		ID:          uuid.NewString(),
		DeviceID:    req.DeviceID,
		SessionID:   req.SessionID,
		Timestamp:   startedAt,
		FileSize:    req.FileSize,
		S3Key:       key,
		Bucket:      resp.Bucket,
		Status:      repository.StatusPendingUpload,
		GeneratedAt: now,
	}
	// ответ уже отправлен, сбой журнала загрузку не блокирует
	if err := h.repo.Save(ctx, record); err != nil {
		log.Printf("[WARN] Failed to record upload request for %s: %v", req.SessionID, err)
	}
	return record, nil
}

func (h *Handler) count(fn func(*Stats)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.stats)
}

func (h *Handler) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
