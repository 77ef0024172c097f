package storage

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory - хранилище в памяти с внедрением сбоев, для тестов и симуляции
type Memory struct {
	mu          sync.Mutex
	files       map[string]*memFile
	unavailable bool
	faults      map[string]shortWrite
}

type memFile struct {
	data   []byte
	writes int
}

type shortWrite struct {
	nth    int
	accept int
}

func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string]*memFile),
		faults: make(map[string]shortWrite),
	}
}

// SetUnavailable имитирует отсутствующую карту
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// InjectShortWrite делает nth-ю (с 1) запись в файл name короткой:
// хранилище примет не более accept байт и не вернет ошибку.
func (m *Memory) InjectShortWrite(name string, nth, accept int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[name] = shortWrite{nth: nth, accept: accept}
}

// Put кладет готовый файл
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = &memFile{data: append([]byte(nil), data...)}
}

// Bytes возвращает копию содержимого файла
func (m *Memory) Bytes(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

func (m *Memory) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

// Names возвращает имена файлов в алфавитном порядке
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) Create(name string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, fmt.Errorf("%w: card not mounted", ErrStorageUnavailable)
	}
	f := &memFile{}
	m.files[name] = f
	return &memHandle{m: m, name: name, f: f}, nil
}

func (m *Memory) Open(name string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, fmt.Errorf("%w: card not mounted", ErrStorageUnavailable)
	}
	f, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &memHandle{m: m, name: name, f: f, readOnly: true}, nil
}

func (m *Memory) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.files, name)
	return nil
}

type memHandle struct {
	m        *Memory
	name     string
	f        *memFile
	pos      int64
	readOnly bool
	closed   bool
}

func (h *memHandle) Read(p []byte) (int, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if h.pos >= int64(len(h.f.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.f.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *memHandle) Write(p []byte) (int, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if h.readOnly {
		return 0, ErrReadOnly
	}

	h.f.writes++
	accept := len(p)
	if fault, ok := h.m.faults[h.name]; ok && fault.nth == h.f.writes && fault.accept < accept {
		accept = fault.accept
	}

	end := h.pos + int64(accept)
	if end > int64(len(h.f.data)) {
		grown := make([]byte, end)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	copy(h.f.data[h.pos:end], p[:accept])
	h.pos = end
	return accept, nil
}

func (h *memHandle) SeekTo(offset int64) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	h.pos = offset
	return nil
}

func (h *memHandle) Flush() error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

func (h *memHandle) Size() (int64, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return int64(len(h.f.data)), nil
}

func (h *memHandle) Close() error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.closed = true
	return nil
}
