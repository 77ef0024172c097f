package storage

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("file not found")
	ErrReadOnly           = errors.New("file opened read-only")
	ErrClosed             = errors.New("file handle closed")
)

// Store - долговременное хранилище файлов сессий (SD-карта на устройстве).
// Долговечность гарантируется только после явного Flush.
type Store interface {
	// Create создает или усекает файл для чтения и записи
	Create(name string) (Handle, error)
	// Open открывает существующий файл только на чтение
	Open(name string) (Handle, error)
	Remove(name string) error
}

// Handle - открытый файл хранилища
type Handle interface {
	io.Reader
	// Write может принять меньше байт, чем передано; вызывающий обязан сверить n
	io.Writer
	// SeekTo устанавливает абсолютную позицию
	SeekTo(offset int64) error
	Flush() error
	Size() (int64, error)
	Close() error
}

// ReadFile читает файл целиком
func ReadFile(s Store, name string) ([]byte, error) {
	h, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	size, err := h.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(h, data); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
