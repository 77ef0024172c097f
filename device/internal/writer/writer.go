package writer

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/Krimson/holter-monitory/device/internal/buffer"
	"github.com/Krimson/holter-monitory/device/internal/frame"
	"github.com/Krimson/holter-monitory/device/internal/storage"
)

// Writer пишет один файл сессии: заголовок-заглушка, поток записей через
// буферы, финализация с патчем счётчиков и проверкой. Не потокобезопасен,
// принадлежит циклу захвата.
type Writer struct {
	store storage.Store
	opts  Options
	state State

	session Session
	file    storage.Handle
	spool   storage.Handle
	ecg     *buffer.Buffer
	imu     *buffer.Buffer

	numECG     uint32
	numIMU     uint32
	persisting bool
	partial    int64
}

func New(store storage.Store, opts Options) *Writer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Writer{
		store: store,
		opts:  opts,
		state: StateIdle,
	}
}

// Open создает файл и пишет заголовок с нулевыми счётчиками. Если хранилище
// недоступно, Writer все равно переходит в Streaming, но только считает
// отсчёты (IsPersisting() == false), а ошибка возвращается вызывающему.
func (w *Writer) Open(s Session) error {
	if w.state != StateIdle {
		return fmt.Errorf("%w: open in %s", ErrInvalidState, w.state)
	}
	w.session = s
	w.state = StateOpen

	if err := w.openFiles(); err != nil {
		w.closeFiles()
		w.store.Remove(s.Path)
		w.state = StateStreaming
		log.Printf("[WARN] Session %d: storage unavailable, counting samples without persisting: %v", s.SessionID, err)
		return err
	}

	w.persisting = true
	w.state = StateStreaming
	log.Printf("[WRITER] Opened %s (ecg=%d Hz, imu=%d Hz, buffer=%d bytes)",
		s.Path, s.ECGRate, s.IMURate, w.opts.BufferSize)
	return nil
}

func (w *Writer) openFiles() error {
	f, err := w.store.Create(w.session.Path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.session.Path, err)
	}
	w.file = f

	hdr, _ := frame.NewHeader(w.session.DeviceID, w.session.SessionID, w.session.ECGRate, w.session.IMURate).MarshalBinary()
	if n, err := f.Write(hdr); err != nil || n != len(hdr) {
		return fmt.Errorf("%w: header write %d/%d bytes: %v", storage.ErrStorageUnavailable, n, len(hdr), err)
	}
	w.ecg = buffer.New(f, w.opts.BufferSize)

	if w.session.IMURate > 0 {
		spool, err := w.store.Create(w.session.SpoolPath())
		if err != nil {
			return fmt.Errorf("failed to create imu spool: %w", err)
		}
		w.spool = spool
		w.imu = buffer.New(spool, w.opts.BufferSize)
	}
	return nil
}

// Record добавляет запись канала. Допустим только в Streaming.
func (w *Writer) Record(ch frame.Channel, rec frame.Record) error {
	if w.state != StateStreaming {
		return fmt.Errorf("%w: record in %s", ErrInvalidState, w.state)
	}

	var buf *buffer.Buffer
	switch ch {
	case frame.ChannelECG:
		buf = w.ecg
	case frame.ChannelIMU:
		if w.session.IMURate == 0 {
			return fmt.Errorf("%w: %s", ErrChannelNotConfigured, ch)
		}
		buf = w.imu
	default:
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, ch)
	}

	if w.persisting {
		var scratch [frame.ECGRecordSize]byte
		if err := buf.Append(rec.Append(scratch[:0])); err != nil {
			if errors.Is(err, buffer.ErrRecordTooLarge) {
				return err
			}
			w.notePartial(ch, err)
		}
	}

	if ch == frame.ChannelECG {
		w.numECG++
	} else {
		w.numIMU++
	}
	return nil
}

// Sync сбрасывает буферы и хранилище во время захвата
func (w *Writer) Sync() error {
	if w.state != StateStreaming {
		return fmt.Errorf("%w: sync in %s", ErrInvalidState, w.state)
	}
	if !w.persisting {
		return nil
	}

	w.flushBuffers()
	if err := w.file.Flush(); err != nil {
		return fmt.Errorf("failed to flush session file: %w", err)
	}
	if w.spool != nil {
		if err := w.spool.Flush(); err != nil {
			return fmt.Errorf("failed to flush imu spool: %w", err)
		}
	}
	return nil
}

// Finalize: сброс буферов, перенос блока IMU, патч счётчиков, flush,
// повторное открытие только на чтение и сверка заголовка и размера.
// Расхождение возвращается как *IntegrityError, файл не исправляется.
func (w *Writer) Finalize() (Report, error) {
	if w.state != StateStreaming {
		return Report{}, fmt.Errorf("%w: finalize in %s", ErrInvalidState, w.state)
	}
	w.state = StateFinalizing
	defer func() { w.state = StateClosed }()

	report := Report{
		Path:         w.session.Path,
		NumECG:       w.numECG,
		NumIMU:       w.numIMU,
		ExpectedSize: frame.ExpectedSize(w.numECG, w.numIMU),
		Persisting:   w.persisting,
	}
	if !w.persisting {
		return report, nil
	}

	w.flushBuffers()
	if err := w.appendSpool(); err != nil {
		log.Printf("[ERROR] Session %d: failed to append imu block: %v", w.session.SessionID, err)
	}

	if size, err := w.file.Size(); err == nil && size != report.ExpectedSize {
		log.Printf("[WARN] Session %d: end of file at %d bytes before patch, expected %d",
			w.session.SessionID, size, report.ExpectedSize)
	}

	if err := w.patchCounts(); err != nil {
		log.Printf("[ERROR] Session %d: failed to patch header counts: %v", w.session.SessionID, err)
	}
	if err := w.file.Flush(); err != nil {
		log.Printf("[ERROR] Session %d: failed to flush session file: %v", w.session.SessionID, err)
	}
	w.closeFiles()

	report.ECG = w.ecg.Stats()
	if w.imu != nil {
		report.IMU = w.imu.Stats()
	}
	report.PartialWrites = w.partial

	size, err := w.verify()
	report.FileSize = size
	if err != nil {
		log.Printf("[ERROR] Session %d: %v", w.session.SessionID, err)
		return report, err
	}

	log.Printf("[WRITER] Finalized %s: ecg=%d imu=%d size=%d bytes",
		w.session.Path, w.numECG, w.numIMU, size)
	return report, nil
}

// patchCounts перезаписывает только поля счётчиков. Вне Finalizing запрещен.
func (w *Writer) patchCounts() error {
	if w.state != StateFinalizing {
		return fmt.Errorf("%w: patch in %s", ErrInvalidState, w.state)
	}
	if err := w.file.SeekTo(frame.OffsetNumECG); err != nil {
		return fmt.Errorf("failed to seek to counts: %w", err)
	}

	counts := frame.EncodeCounts(w.numECG, w.numIMU)
	n, err := w.file.Write(counts)
	if err != nil || n != len(counts) {
		w.partial++
		return &buffer.PartialWriteError{Written: n, Requested: len(counts), Err: err}
	}
	return nil
}

func (w *Writer) appendSpool() error {
	if w.spool == nil {
		return nil
	}
	if err := w.spool.Flush(); err != nil {
		return fmt.Errorf("failed to flush imu spool: %w", err)
	}
	if err := w.spool.SeekTo(0); err != nil {
		return fmt.Errorf("failed to rewind imu spool: %w", err)
	}

	chunk := make([]byte, w.opts.BufferSize)
	for {
		n, err := w.spool.Read(chunk)
		if n > 0 {
			written, werr := w.file.Write(chunk[:n])
			if werr != nil || written != n {
				w.partial++
				return &buffer.PartialWriteError{Written: written, Requested: n, Err: werr}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read imu spool: %w", err)
		}
	}

	w.spool.Close()
	w.spool = nil
	if err := w.store.Remove(w.session.SpoolPath()); err != nil {
		log.Printf("[WARN] Failed to remove imu spool %s: %v", w.session.SpoolPath(), err)
	}
	return nil
}

func (w *Writer) verify() (int64, error) {
	want := &IntegrityError{
		Path:     w.session.Path,
		WantECG:  w.numECG,
		WantIMU:  w.numIMU,
		WantSize: frame.ExpectedSize(w.numECG, w.numIMU),
	}

	h, err := w.store.Open(w.session.Path)
	if err != nil {
		want.Err = fmt.Errorf("failed to reopen: %w", err)
		return 0, want
	}
	defer h.Close()

	size, err := h.Size()
	if err != nil {
		want.Err = fmt.Errorf("failed to stat: %w", err)
		return 0, want
	}
	want.GotSize = size

	buf := make([]byte, frame.HeaderSize)
	if _, err := io.ReadFull(h, buf); err != nil {
		want.Err = fmt.Errorf("failed to read header: %w", err)
		return size, want
	}
	hdr, err := frame.ParseHeader(buf)
	if err != nil {
		want.Err = err
		return size, want
	}
	want.GotECG, want.GotIMU = hdr.NumECG, hdr.NumIMU

	if hdr.NumECG != w.numECG || hdr.NumIMU != w.numIMU || size != want.WantSize {
		return size, want
	}
	return size, nil
}

// Abort бросает незавершенную сессию: файл со счётчиками-заглушками удаляется.
func (w *Writer) Abort() {
	if w.state != StateStreaming {
		return
	}
	w.closeFiles()
	if w.persisting {
		for _, name := range []string{w.session.Path, w.session.SpoolPath()} {
			if err := w.store.Remove(name); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Printf("[WARN] Failed to remove abandoned %s: %v", name, err)
			}
		}
	}
	w.state = StateClosed
	log.Printf("[WRITER] Abandoned session %d after %d ecg / %d imu samples",
		w.session.SessionID, w.numECG, w.numIMU)
}

func (w *Writer) flushBuffers() {
	if err := w.ecg.Flush(); err != nil {
		w.notePartial(frame.ChannelECG, err)
	}
	if w.imu != nil {
		if err := w.imu.Flush(); err != nil {
			w.notePartial(frame.ChannelIMU, err)
		}
	}
}

func (w *Writer) notePartial(ch frame.Channel, err error) {
	w.partial++
	log.Printf("[WARN] Session %d: %s %v", w.session.SessionID, ch, err)
}

func (w *Writer) closeFiles() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if w.spool != nil {
		w.spool.Close()
		w.spool = nil
	}
}

func (w *Writer) State() State       { return w.state }
func (w *Writer) IsPersisting() bool { return w.persisting }
func (w *Writer) Session() Session   { return w.session }

// Counts возвращает число принятых отсчётов по каналам
func (w *Writer) Counts() (ecg, imu uint32) {
	return w.numECG, w.numIMU
}

// PartialWrites - число коротких записей за сессию
func (w *Writer) PartialWrites() int64 {
	return w.partial
}
