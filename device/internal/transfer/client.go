package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Krimson/holter-monitory/device/internal/storage"
)

const (
	DefaultTimeout = 30 * time.Second
	ContentType    = "application/octet-stream"
	maxErrorBody   = 4096
)

var ErrTransferFailed = errors.New("transfer failed")

// TransferError - отказ назначения или ошибка транспорта (Status == 0)
type TransferError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer failed: %v", e.Err)
	}
	return fmt.Sprintf("transfer failed: status %d: %s", e.Status, e.Body)
}

func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }
func (e *TransferError) Unwrap() error        { return e.Err }

// Result - итог загрузки
type Result struct {
	Status   int    `json:"status"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"checksum"`
	Removed  bool   `json:"removed"`
}

// Client загружает финализированный файл одним PUT-запросом
type Client struct {
	store   storage.Store
	http    *http.Client
	timeout time.Duration
}

func NewClient(store storage.Store, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		store:   store,
		http:    httpClient,
		timeout: timeout,
	}
}

// Upload читает файл целиком и отправляет его на destination. Файл удаляется
// только после ответа 200 или 204, иначе остается для повторной попытки.
func (c *Client) Upload(ctx context.Context, path, destination string) (Result, error) {
	data, err := storage.ReadFile(c.store, path)
	if err != nil {
		return Result{}, &TransferError{Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}

	sum := blake3.Sum256(data)
	result := Result{
		Bytes:    int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, destination, bytes.NewReader(data))
	if err != nil {
		return result, &TransferError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", ContentType)
	req.ContentLength = int64(len(data))

	log.Printf("[TRANSFER] Uploading %s (%d bytes, blake3=%s)", path, len(data), result.Checksum[:16])
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return result, &TransferError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	result.Status = resp.StatusCode

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return result, &TransferError{Status: resp.StatusCode, Body: string(body)}
	}

	log.Printf("[TRANSFER] Uploaded %s in %v (status %d)", path, time.Since(start), resp.StatusCode)

	if err := c.store.Remove(path); err != nil {
		log.Printf("[WARN] Uploaded %s but failed to remove it: %v", path, err)
		return result, nil
	}
	result.Removed = true
	return result, nil
}
