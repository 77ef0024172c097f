package repository

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("upload request not found")

// StatusPendingUpload - адрес выдан, загрузка еще не подтверждена
const StatusPendingUpload = "pending_upload"

// UploadRequest - выданный устройству адрес загрузки
type UploadRequest struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	FileSize    int64     `json:"file_size"`
	S3Key       string    `json:"s3_key"`
	Bucket      string    `json:"bucket"`
	Status      string    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Repository interface {
	Save(ctx context.Context, req *UploadRequest) error
	Get(ctx context.Context, id string) (*UploadRequest, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*UploadRequest, error)
}
