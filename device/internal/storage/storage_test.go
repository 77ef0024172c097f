package storage

import (
	"bytes"
	"errors"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	h, err := s.Create("session_1.bin")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if n, err := h.Write([]byte("hello world")); err != nil || n != 11 {
		t.Fatalf("Expected 11 bytes written, got %d (%v)", n, err)
	}
	if err := h.SeekTo(6); err != nil {
		t.Fatalf("SeekTo failed: %v", err)
	}
	if _, err := h.Write([]byte("WORLD")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if size, _ := h.Size(); size != 11 {
		t.Errorf("Expected size 11, got %d", size)
	}
	h.Close()

	data, err := ReadFile(s, "session_1.bin")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, []byte("hello WORLD")) {
		t.Errorf("Expected patched content, got %q", data)
	}

	ro, err := s.Open("session_1.bin")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := ro.Write([]byte("x")); err == nil {
		t.Errorf("Expected write to read-only handle to fail")
	}
	ro.Close()

	if err := s.Remove("session_1.bin"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Open("session_1.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
	if err := s.Remove("session_1.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second remove, got %v", err)
	}
}

func TestFS(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	exerciseStore(t, s)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_Unavailable(t *testing.T) {
	m := NewMemory()
	m.SetUnavailable(true)

	if _, err := m.Create("a.bin"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestMemory_ShortWrite(t *testing.T) {
	m := NewMemory()
	m.InjectShortWrite("a.bin", 2, 3)

	h, _ := m.Create("a.bin")
	if n, _ := h.Write([]byte("12345")); n != 5 {
		t.Errorf("Expected first write to be complete, got %d", n)
	}
	if n, _ := h.Write([]byte("67890")); n != 3 {
		t.Errorf("Expected short write of 3 bytes, got %d", n)
	}

	data, _ := m.Bytes("a.bin")
	if string(data) != "12345678" {
		t.Errorf("Expected 12345678, got %q", data)
	}
}
