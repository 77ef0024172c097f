package buffer

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrPartialWrite   = errors.New("partial write")
	ErrRecordTooLarge = errors.New("record larger than buffer capacity")
)

// PartialWriteError сообщает, сколько байт хранилище реально приняло
type PartialWriteError struct {
	Written   int
	Requested int
	Err       error
}

func (e *PartialWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partial write: %d/%d bytes: %v", e.Written, e.Requested, e.Err)
	}
	return fmt.Sprintf("partial write: %d/%d bytes", e.Written, e.Requested)
}

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }
func (e *PartialWriteError) Unwrap() error        { return e.Err }

// Stats - счётчики буфера за время жизни сессии
type Stats struct {
	Appended  int64 `json:"appended_bytes"`
	Requested int64 `json:"requested_bytes"`
	Written   int64 `json:"written_bytes"`
	Flushes   int64 `json:"flushes"`
	Partial   int64 `json:"partial_writes"`
}

// Buffer собирает мелкие записи отсчётов в крупные блоки для хранилища.
// Принадлежит одному потоку управления, блокировок нет.
type Buffer struct {
	dst   io.Writer
	buf   []byte
	stats Stats
}

func New(dst io.Writer, capacity int) *Buffer {
	return &Buffer{
		dst: dst,
		buf: make([]byte, 0, capacity),
	}
}

// Append копирует p в буфер. Если p не помещается, сначала сбрасывает буфер,
// поэтому запись никогда не делится между двумя сбросами.
// Байты принимаются даже при частичной записи сброса, ошибка лишь сообщается.
func (b *Buffer) Append(p []byte) error {
	if len(p) > cap(b.buf) {
		return fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(p), cap(b.buf))
	}

	var flushErr error
	if len(b.buf)+len(p) > cap(b.buf) {
		flushErr = b.Flush()
	}

	b.buf = append(b.buf, p...)
	b.stats.Appended += int64(len(p))
	return flushErr
}

// Flush пишет содержимое одним вызовом Write и обнуляет курсор
func (b *Buffer) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}

	requested := len(b.buf)
	n, err := b.dst.Write(b.buf)
	b.buf = b.buf[:0]

	b.stats.Flushes++
	b.stats.Requested += int64(requested)
	b.stats.Written += int64(n)

	if err != nil || n < requested {
		b.stats.Partial++
		return &PartialWriteError{Written: n, Requested: requested, Err: err}
	}
	return nil
}

func (b *Buffer) Len() int     { return len(b.buf) }
func (b *Buffer) Cap() int     { return cap(b.buf) }
func (b *Buffer) Stats() Stats { return b.stats }
