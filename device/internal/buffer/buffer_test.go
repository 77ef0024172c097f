package buffer

import (
	"bytes"
	"errors"
	"testing"
)

// TestWriter - приемник, запоминающий каждый вызов Write
type TestWriter struct {
	calls  [][]byte
	limit  int
	failAt int
}

func (w *TestWriter) Write(p []byte) (int, error) {
	w.calls = append(w.calls, append([]byte(nil), p...))
	if w.failAt > 0 && len(w.calls) == w.failAt && w.limit < len(p) {
		return w.limit, nil
	}
	return len(p), nil
}

func (w *TestWriter) All() []byte {
	return bytes.Join(w.calls, nil)
}

func TestBuffer_FlushBeforeOverflow(t *testing.T) {
	w := &TestWriter{}
	b := New(w, 12)

	rec := []byte{1, 2, 3, 4, 5, 6}
	for i := 0; i < 2; i++ {
		if err := b.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if len(w.calls) != 0 {
		t.Fatalf("Expected no flush while buffer fits, got %d", len(w.calls))
	}

	if err := b.Append(rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(w.calls) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(w.calls))
	}
	if len(w.calls[0]) != 12 {
		t.Errorf("Expected flush of 12 bytes, got %d", len(w.calls[0]))
	}
	if b.Len() != 6 {
		t.Errorf("Expected 6 buffered bytes, got %d", b.Len())
	}
}

func TestBuffer_NoBytesLost(t *testing.T) {
	w := &TestWriter{}
	b := New(w, 64)

	var want []byte
	for i := 0; i < 100; i++ {
		rec := []byte{byte(i), byte(i >> 8), 0, 0, 0, byte(i)}
		want = append(want, rec...)
		if err := b.Append(rec); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if !bytes.Equal(w.All(), want) {
		t.Errorf("Expected flushed bytes to equal appended bytes")
	}
	for i, call := range w.calls {
		if len(call)%6 != 0 {
			t.Errorf("Flush %d split a record: %d bytes", i, len(call))
		}
	}

	stats := b.Stats()
	if stats.Appended != int64(len(want)) || stats.Written != int64(len(want)) {
		t.Errorf("Expected %d appended and written, got %+v", len(want), stats)
	}
}

func TestBuffer_EmptyFlushIsNoop(t *testing.T) {
	w := &TestWriter{}
	b := New(w, 8)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(w.calls) != 0 {
		t.Errorf("Expected no write call, got %d", len(w.calls))
	}
}

func TestBuffer_PartialWriteReported(t *testing.T) {
	w := &TestWriter{failAt: 1, limit: 4}
	b := New(w, 8)

	b.Append([]byte{1, 2, 3, 4, 5, 6})
	err := b.Flush()

	var pw *PartialWriteError
	if !errors.As(err, &pw) {
		t.Fatalf("Expected PartialWriteError, got %v", err)
	}
	if pw.Written != 4 || pw.Requested != 6 {
		t.Errorf("Expected 4/6, got %d/%d", pw.Written, pw.Requested)
	}
	if !errors.Is(err, ErrPartialWrite) {
		t.Errorf("Expected errors.Is ErrPartialWrite")
	}
	if b.Len() != 0 {
		t.Errorf("Expected cursor reset after partial write, got %d", b.Len())
	}
	if b.Stats().Partial != 1 {
		t.Errorf("Expected 1 partial write, got %d", b.Stats().Partial)
	}
}

func TestBuffer_RecordTooLarge(t *testing.T) {
	b := New(&TestWriter{}, 4)
	if err := b.Append(make([]byte, 5)); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("Expected ErrRecordTooLarge, got %v", err)
	}
}
