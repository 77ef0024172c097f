package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/frame"
	"github.com/Krimson/holter-monitory/device/internal/handshake"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/storage"
	"github.com/Krimson/holter-monitory/device/internal/transfer"
)

type handshakeReply struct {
	res handshake.Result
	err error
}

// fakeHandshake отвечает заранее заданными результатами, последний повторяется
type fakeHandshake struct {
	mu      sync.Mutex
	replies []handshakeReply
	calls   int
	sizes   []int64
}

func (f *fakeHandshake) RequestDestination(ctx context.Context, sessionID string, startedAt time.Time, fileSize int64) (handshake.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, fileSize)
	reply := f.replies[min(f.calls, len(f.replies)-1)]
	f.calls++
	return reply.res, reply.err
}

func destination(url string) handshakeReply {
	return handshakeReply{res: handshake.Result{
		Outcome:     handshake.OutcomeDestinationReceived,
		Destination: url,
		Response:    handshake.Response{Status: "success", UploadURL: url, S3Key: "raw/2023/11/14/holter-001/session_1700000000.bin"},
	}}
}

func timeout() handshakeReply {
	return handshakeReply{
		res: handshake.Result{Outcome: handshake.OutcomeTimeout},
		err: handshake.ErrTimeout,
	}
}

// recordingObserver запоминает события
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) HandleEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) transitions() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, ev := range r.events {
		if ev.Type == EventTransition {
			states = append(states, ev.To)
		}
	}
	return states
}

// uploadServer принимает PUT и отвечает status
type uploadServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
}

func newUploadServer(status int) *uploadServer {
	u := &uploadServer{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.bodies = append(u.bodies, body)
		u.mu.Unlock()
		w.WriteHeader(status)
	}))
	return u
}

type fixture struct {
	store     *storage.Memory
	clock     *sampler.FakeClock
	handshake *fakeHandshake
	observer  *recordingObserver
	orch      *Orchestrator
}

func newFixture(t *testing.T, cfg Config, hs *fakeHandshake) *fixture {
	t.Helper()

	f := &fixture{
		store:     storage.NewMemory(),
		clock:     sampler.NewFakeClock(time.Unix(1700000000, 0)),
		handshake: hs,
		observer:  &recordingObserver{},
	}

	if cfg.CaptureDuration == 0 {
		cfg.CaptureDuration = 15 * time.Second
	}
	if cfg.ECGRateHz == 0 {
		cfg.ECGRateHz = 250
	}
	cfg.DeviceID = 1
	cfg.FlushInterval = 2 * time.Second
	cfg.ProgressInterval = 3 * time.Second
	cfg.EventBuffer = 1024

	f.orch = New(cfg, Deps{
		Store:     f.store,
		Sensor:    sampler.NewSynthetic(f.clock, sampler.DefaultSyntheticConfig()),
		Clock:     f.clock,
		Wall:      func() time.Time { return time.Unix(1700000000, 0) },
		Handshake: hs,
		Uploader:  transfer.NewClient(f.store, nil, time.Second),
		Observers: []Observer{f.observer},
	})
	t.Cleanup(f.orch.Close)
	return f
}

func TestOrchestrator_EndToEndSuccess(t *testing.T) {
	srv := newUploadServer(http.StatusOK)
	defer srv.Close()

	hs := &fakeHandshake{replies: []handshakeReply{destination(srv.URL + "/upload")}}
	f := newFixture(t, Config{}, hs)

	report, err := f.orch.RunSession(context.Background())
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	if report.State != StateComplete || f.orch.State() != StateComplete {
		t.Errorf("Expected complete, got %s / %s", report.State, f.orch.State())
	}
	if report.NumECG != 3750 || report.NumIMU != 0 {
		t.Errorf("Expected (3750, 0) samples, got (%d, %d)", report.NumECG, report.NumIMU)
	}
	wantSize := int64(frame.HeaderSize + 3750*6)
	if report.FileSize != wantSize {
		t.Errorf("Expected file size %d, got %d", wantSize, report.FileSize)
	}
	if hs.sizes[0] != wantSize {
		t.Errorf("Expected handshake to announce %d bytes, got %d", wantSize, hs.sizes[0])
	}

	if len(srv.bodies) != 1 {
		t.Fatalf("Expected one upload, got %d", len(srv.bodies))
	}
	uploaded, err := frame.Decode(bytes.NewReader(srv.bodies[0]))
	if err != nil {
		t.Fatalf("Decode of uploaded file failed: %v", err)
	}
	if uploaded.Header.NumECG != 3750 || uploaded.Header.NumIMU != 0 {
		t.Errorf("Expected header counts (3750, 0), got (%d, %d)", uploaded.Header.NumECG, uploaded.Header.NumIMU)
	}
	if int64(len(srv.bodies[0])) != wantSize {
		t.Errorf("Expected uploaded size %d, got %d", wantSize, len(srv.bodies[0]))
	}

	if f.store.Exists(report.Session.Path) {
		t.Errorf("Expected file removed after successful transfer")
	}
	if report.Checksum == "" || report.UploadKey == "" {
		t.Errorf("Expected checksum and upload key in report, got %+v", report)
	}

	f.orch.Close()
	want := []State{StateCapturing, StateRequestingDestination, StateTransferring, StateComplete}
	got := f.observer.transitions()
	if len(got) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected transition %d to be %s, got %s", i, want[i], got[i])
		}
	}
}

func TestOrchestrator_TransferFailurePreservesFile(t *testing.T) {
	srv := newUploadServer(http.StatusInternalServerError)
	defer srv.Close()

	hs := &fakeHandshake{replies: []handshakeReply{destination(srv.URL)}}
	f := newFixture(t, Config{}, hs)

	report, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonTransferFailed {
		t.Fatalf("Expected transfer_failed, got %v", err)
	}
	if !errors.Is(err, transfer.ErrTransferFailed) {
		t.Errorf("Expected cause to be ErrTransferFailed")
	}
	if f.orch.State() != StateError {
		t.Errorf("Expected error state, got %s", f.orch.State())
	}
	if report.TransferStatus != http.StatusInternalServerError {
		t.Errorf("Expected status 500 in report, got %d", report.TransferStatus)
	}

	data, ok := f.store.Bytes(report.Session.Path)
	if !ok {
		t.Fatalf("Expected file preserved after failed transfer")
	}
	if int64(len(data)) != frame.ExpectedSize(3750, 0) {
		t.Errorf("Expected intact file, got %d bytes", len(data))
	}
	if !report.Retryable() {
		t.Errorf("Expected report to be retryable")
	}
}

func TestOrchestrator_HandshakeTimeout(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{timeout()}}
	f := newFixture(t, Config{CaptureDuration: time.Second}, hs)

	report, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonHandshakeTimeout {
		t.Fatalf("Expected handshake_timeout, got %v", err)
	}
	if !f.store.Exists(report.Session.Path) {
		t.Errorf("Expected file preserved after handshake timeout")
	}
	if report.HandshakeAttempts != 1 {
		t.Errorf("Expected a single attempt by default, got %d", report.HandshakeAttempts)
	}
}

func TestOrchestrator_PublishFailed(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{{
		res: handshake.Result{Outcome: handshake.OutcomePublishFailed},
		err: handshake.ErrPublishFailed,
	}}}
	f := newFixture(t, Config{CaptureDuration: time.Second}, hs)

	_, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonPublishFailed {
		t.Fatalf("Expected publish_failed, got %v", err)
	}
}

func TestOrchestrator_RetriesNetworkSteps(t *testing.T) {
	srv := newUploadServer(http.StatusNoContent)
	defer srv.Close()

	hs := &fakeHandshake{replies: []handshakeReply{timeout(), destination(srv.URL)}}
	f := newFixture(t, Config{CaptureDuration: time.Second, UploadAttempts: 3, RetryBackoff: time.Second}, hs)

	report, err := f.orch.RunSession(context.Background())
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if report.HandshakeAttempts != 2 || hs.calls != 2 {
		t.Errorf("Expected 2 handshake attempts, got %d", report.HandshakeAttempts)
	}
	if report.TransferAttempts != 1 {
		t.Errorf("Expected 1 transfer attempt, got %d", report.TransferAttempts)
	}
}

func TestOrchestrator_IntegrityMismatch(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{destination("http://127.0.0.1:1")}}
	f := newFixture(t, Config{CaptureDuration: time.Second, BufferSize: 60}, hs)
	f.store.InjectShortWrite("session_1700000000.bin", 3, 1)

	report, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonIntegrityMismatch {
		t.Fatalf("Expected integrity_mismatch, got %v", err)
	}
	if hs.calls != 0 {
		t.Errorf("Expected no handshake after integrity failure, got %d calls", hs.calls)
	}
	if report.PartialWrites == 0 {
		t.Errorf("Expected partial writes in report")
	}
	if !f.store.Exists(report.Session.Path) {
		t.Errorf("Expected file left for inspection")
	}
	if report.Retryable() {
		t.Errorf("Expected integrity failure not to be retryable")
	}
}

func TestOrchestrator_DegradedMode(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{destination("http://127.0.0.1:1")}}
	f := newFixture(t, Config{}, hs)
	f.store.SetUnavailable(true)

	report, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonStorageUnavailable {
		t.Fatalf("Expected storage_unavailable, got %v", err)
	}
	if report.NumECG != 3750 {
		t.Errorf("Expected samples counted in degraded mode, got %d", report.NumECG)
	}
	if report.Persisting {
		t.Errorf("Expected non-persisting report")
	}
	if hs.calls != 0 {
		t.Errorf("Expected no network activity without a file")
	}
}

func TestOrchestrator_AbortedCapture(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{destination("http://127.0.0.1:1")}}
	f := newFixture(t, Config{}, hs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orch.RunSession(ctx)

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonAborted {
		t.Fatalf("Expected aborted, got %v", err)
	}
	if f.store.Exists(report.Session.Path) {
		t.Errorf("Expected abandoned file removed")
	}
}

func TestOrchestrator_RateAboveHeaderFieldIsFatal(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{destination("http://127.0.0.1:1")}}
	f := newFixture(t, Config{ECGRateHz: 70000}, hs)

	report, err := f.orch.RunSession(context.Background())

	var se *SessionError
	if !errors.As(err, &se) || se.Reason != ReasonFatal {
		t.Fatalf("Expected fatal, got %v", err)
	}
	if !errors.Is(err, sampler.ErrInvalidRate) {
		t.Errorf("Expected ErrInvalidRate, got %v", err)
	}
	if f.store.Exists(report.Session.Path) {
		t.Errorf("Expected no session file for rejected rate")
	}
	if hs.calls != 0 {
		t.Errorf("Expected no handshake, got %d", hs.calls)
	}
}

func TestOrchestrator_ResetAndUniqueSessions(t *testing.T) {
	hs := &fakeHandshake{replies: []handshakeReply{timeout()}}
	f := newFixture(t, Config{CaptureDuration: 100 * time.Millisecond}, hs)

	first, _ := f.orch.RunSession(context.Background())

	if _, err := f.orch.RunSession(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition without reset, got %v", err)
	}

	if err := f.orch.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if f.orch.State() != StateInit {
		t.Errorf("Expected init after reset, got %s", f.orch.State())
	}
	if err := f.orch.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected reset from init to be rejected, got %v", err)
	}

	second, _ := f.orch.RunSession(context.Background())
	if first.Session.ID == second.Session.ID {
		t.Errorf("Expected unique session ids, both %s", first.Session.ID)
	}
	if second.Session.Number != first.Session.Number+1 {
		t.Errorf("Expected bumped session number, got %d after %d", second.Session.Number, first.Session.Number)
	}
}

func TestOrchestrator_SnapshotAndProgress(t *testing.T) {
	srv := newUploadServer(http.StatusOK)
	defer srv.Close()

	hs := &fakeHandshake{replies: []handshakeReply{destination(srv.URL)}}
	f := newFixture(t, Config{CaptureDuration: 10 * time.Second, IMURateHz: 50}, hs)

	report, err := f.orch.RunSession(context.Background())
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if report.NumIMU != 500 {
		t.Errorf("Expected 500 imu samples, got %d", report.NumIMU)
	}

	snap := f.orch.Snapshot()
	if !snap.DestinationReceived || snap.LastReport == nil || snap.LastReport.Session.ID != report.Session.ID {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	f.orch.Close()
	progress := 0
	for _, ev := range f.observer.events {
		if ev.Type == EventProgress {
			progress++
		}
	}
	if progress != 3 {
		t.Errorf("Expected 3 progress events in 10s, got %d", progress)
	}
}
