package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS - хранилище поверх каталога файловой системы (точка монтирования карты)
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &FS{root: root}, nil
}

func (s *FS) Root() string {
	return s.root
}

func (s *FS) path(name string) string {
	return filepath.Join(s.root, filepath.Clean("/"+name))
}

func (s *FS) Create(name string) (Handle, error) {
	f, err := os.OpenFile(s.path(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &fsHandle{f: f}, nil
}

func (s *FS) Open(name string) (Handle, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &fsHandle{f: f}, nil
}

func (s *FS) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

type fsHandle struct {
	f *os.File
}

func (h *fsHandle) Read(p []byte) (int, error)  { return h.f.Read(p) }
func (h *fsHandle) Write(p []byte) (int, error) { return h.f.Write(p) }
func (h *fsHandle) Flush() error                { return h.f.Sync() }
func (h *fsHandle) Close() error                { return h.f.Close() }

func (h *fsHandle) SeekTo(offset int64) error {
	_, err := h.f.Seek(offset, io.SeekStart)
	return err
}

func (h *fsHandle) Size() (int64, error) {
	info, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
