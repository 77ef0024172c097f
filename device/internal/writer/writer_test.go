package writer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Krimson/holter-monitory/device/internal/frame"
	"github.com/Krimson/holter-monitory/device/internal/storage"
)

func testSession(imuRate uint16) Session {
	return Session{
		Path:      "session_1700000000.bin",
		DeviceID:  1,
		SessionID: 1700000000,
		ECGRate:   250,
		IMURate:   imuRate,
	}
}

func TestWriter_HeaderRoundTrip(t *testing.T) {
	store := storage.NewMemory()
	w := New(store, Options{BufferSize: 64})

	if err := w.Open(testSession(50)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	const n, m = 1000, 200
	for i := 0; i < n; i++ {
		if err := w.Record(frame.ChannelECG, frame.Record{int16(i), 0, -int16(i)}); err != nil {
			t.Fatalf("Record ecg failed: %v", err)
		}
		if i < m {
			if err := w.Record(frame.ChannelIMU, frame.Record{0, 0, int16(i)}); err != nil {
				t.Fatalf("Record imu failed: %v", err)
			}
		}
	}

	report, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if w.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", w.State())
	}

	wantSize := int64(frame.HeaderSize + n*frame.ECGRecordSize + m*frame.IMURecordSize)
	if report.FileSize != wantSize {
		t.Errorf("Expected file size %d, got %d", wantSize, report.FileSize)
	}

	data, ok := store.Bytes("session_1700000000.bin")
	if !ok {
		t.Fatalf("Expected session file on store")
	}
	f, err := frame.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Header.NumECG != n || f.Header.NumIMU != m {
		t.Errorf("Expected counts (%d, %d), got (%d, %d)", n, m, f.Header.NumECG, f.Header.NumIMU)
	}
	if f.Header.DeviceID != 1 || f.Header.ECGRate != 250 || f.Header.IMURate != 50 {
		t.Errorf("Expected header fields untouched by patch, got %+v", f.Header)
	}
	for i, rec := range f.ECG {
		if rec[0] != int16(i) {
			t.Fatalf("Expected ecg record %d in order, got %v", i, rec)
		}
	}
	for i, rec := range f.IMU {
		if rec[2] != int16(i) {
			t.Fatalf("Expected imu record %d in order, got %v", i, rec)
		}
	}

	if store.Exists("session_1700000000.imu") {
		t.Errorf("Expected imu spool to be removed after finalize")
	}
}

func TestWriter_ShortWriteReportsIntegrityMismatch(t *testing.T) {
	store := storage.NewMemory()
	// запись 1 - заголовок, запись 2 - первый сброс буфера
	store.InjectShortWrite("session_1700000000.bin", 2, 10)

	w := New(store, Options{BufferSize: 60})
	if err := w.Open(testSession(0)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 25; i++ {
		if err := w.Record(frame.ChannelECG, frame.Record{1, 2, 3}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	report, err := w.Finalize()
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("Expected ErrIntegrityMismatch, got %v", err)
	}

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("Expected *IntegrityError, got %T", err)
	}
	if ie.GotECG != 25 {
		t.Errorf("Expected header counts to be patched to 25, got %d", ie.GotECG)
	}
	if ie.GotSize != ie.WantSize-50 {
		t.Errorf("Expected file 50 bytes short, got %d want %d", ie.GotSize, ie.WantSize)
	}
	if report.PartialWrites != 1 {
		t.Errorf("Expected 1 partial write, got %d", report.PartialWrites)
	}
	if !store.Exists("session_1700000000.bin") {
		t.Errorf("Expected file left on store for inspection")
	}
}

func TestWriter_DegradedMode(t *testing.T) {
	store := storage.NewMemory()
	store.SetUnavailable(true)

	w := New(store, Options{})
	err := w.Open(testSession(0))
	if !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
	}
	if w.IsPersisting() {
		t.Errorf("Expected writer not to persist")
	}
	if w.State() != StateStreaming {
		t.Errorf("Expected streaming state in degraded mode, got %s", w.State())
	}

	for i := 0; i < 10; i++ {
		if err := w.Record(frame.ChannelECG, frame.Record{}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Errorf("Expected Sync to be a no-op, got %v", err)
	}

	report, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if report.Persisting || report.NumECG != 10 {
		t.Errorf("Expected 10 counted, non-persisted samples, got %+v", report)
	}
}

func TestWriter_InvalidState(t *testing.T) {
	w := New(storage.NewMemory(), Options{})

	if err := w.Record(frame.ChannelECG, frame.Record{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState before open, got %v", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState finalize before open, got %v", err)
	}

	w.Open(testSession(0))
	if err := w.Open(testSession(0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second open, got %v", err)
	}
	if err := w.Record(frame.ChannelIMU, frame.Record{}); !errors.Is(err, ErrChannelNotConfigured) {
		t.Errorf("Expected ErrChannelNotConfigured, got %v", err)
	}
	if err := w.patchCounts(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected patch outside finalizing to be rejected, got %v", err)
	}

	if _, err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := w.Record(frame.ChannelECG, frame.Record{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState after close, got %v", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second finalize, got %v", err)
	}
}

func TestWriter_SyncPersistsBufferedRecords(t *testing.T) {
	store := storage.NewMemory()
	w := New(store, Options{})
	w.Open(testSession(0))

	w.Record(frame.ChannelECG, frame.Record{7, 7, 7})
	if data, _ := store.Bytes("session_1700000000.bin"); len(data) != frame.HeaderSize {
		t.Fatalf("Expected only header before sync, got %d bytes", len(data))
	}

	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if data, _ := store.Bytes("session_1700000000.bin"); len(data) != frame.HeaderSize+frame.ECGRecordSize {
		t.Errorf("Expected record on store after sync, got %d bytes", len(data))
	}
}

func TestWriter_Abort(t *testing.T) {
	store := storage.NewMemory()
	w := New(store, Options{})
	w.Open(testSession(10))
	w.Record(frame.ChannelECG, frame.Record{})

	w.Abort()

	if len(store.Names()) != 0 {
		t.Errorf("Expected abandoned files removed, got %v", store.Names())
	}
	if w.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", w.State())
	}
}
