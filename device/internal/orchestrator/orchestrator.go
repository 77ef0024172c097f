package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/handshake"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/storage"
)

type Config struct {
	DeviceID         uint16
	CaptureDuration  time.Duration
	ECGRateHz        int
	IMURateHz        int
	BufferSize       int
	FlushInterval    time.Duration
	ProgressInterval time.Duration
	UploadAttempts   int
	RetryBackoff     time.Duration
	EventBuffer      int
}

// Deps - внешние коллабораторы конвейера
type Deps struct {
	Store     storage.Store
	Sensor    sampler.Sensor
	Clock     sampler.Clock
	Wall      func() time.Time
	Handshake Handshaker
	Uploader  Uploader
	Observers []Observer
}

// Orchestrator ведет жизненный цикл сессии: захват, финализация, запрос адреса,
// загрузка. Все переходы делает только он, один линейный путь на сессию.
type Orchestrator struct {
	cfg       Config
	store     storage.Store
	sensor    sampler.Sensor
	clock     sampler.Clock
	wall      func() time.Time
	handshake Handshaker
	uploader  Uploader
	observers []Observer

	events chan Event
	done   chan struct{}

	mu           sync.RWMutex
	closed       bool
	state        State
	session      *Session
	destReceived bool
	destination  string
	progress     *Progress
	lastReport   *Report
	lastNumber   uint32
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.UploadAttempts <= 0 {
		cfg.UploadAttempts = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if deps.Clock == nil {
		deps.Clock = sampler.RealClock()
	}
	if deps.Wall == nil {
		deps.Wall = time.Now
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		sensor:    deps.Sensor,
		clock:     deps.Clock,
		wall:      deps.Wall,
		handshake: deps.Handshake,
		uploader:  deps.Uploader,
		observers: deps.Observers,
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
		state:     StateInit,
	}

	go o.dispatch()
	return o
}

// RunSession проводит одну сессию от Init до Complete или Error.
// Ошибка не nil тогда и только тогда, когда сессия закончилась в Error.
func (o *Orchestrator) RunSession(ctx context.Context) (*Report, error) {
	if st := o.State(); st != StateInit {
		return nil, fmt.Errorf("%w: run session in %s", ErrInvalidTransition, st)
	}
	sess := o.newSession()
	if err := o.transition(StateCapturing, ReasonNone, &sess); err != nil {
		return nil, err
	}
	log.Printf("[SESSION] Started %s (ecg=%d Hz, imu=%d Hz, duration=%v)",
		sess.ID, sess.ECGRateHz, sess.IMURateHz, o.cfg.CaptureDuration)

	report := &Report{Session: sess}

	w, err := o.capture(ctx, sess, report)
	if err != nil {
		var se *SessionError
		if errors.As(err, &se) {
			return o.fail(report, se.Reason, se.Err)
		}
		return o.fail(report, ReasonFatal, err)
	}

	wr, ferr := w.Finalize()
	report.Persisting = wr.Persisting
	report.NumECG, report.NumIMU = wr.NumECG, wr.NumIMU
	report.FileSize, report.ExpectedSize = wr.FileSize, wr.ExpectedSize
	report.PartialWrites = wr.PartialWrites

	if !wr.Persisting {
		return o.fail(report, ReasonStorageUnavailable,
			fmt.Errorf("%w: captured %d samples without persisting", storage.ErrStorageUnavailable, wr.NumECG+wr.NumIMU))
	}
	if ferr != nil {
		return o.fail(report, ReasonIntegrityMismatch, ferr)
	}

	// файл финализирован и больше не меняется
	if err := o.transition(StateRequestingDestination, ReasonNone, nil); err != nil {
		return o.fail(report, ReasonFatal, err)
	}

	// сетевые шаги не прерываются, а доживают до своего таймаута
	netCtx := context.WithoutCancel(ctx)

	hres, err := o.requestDestination(netCtx, sess, wr.FileSize, report)
	if err != nil {
		reason := ReasonPublishFailed
		if hres.Outcome == handshake.OutcomeTimeout {
			reason = ReasonHandshakeTimeout
		}
		return o.fail(report, reason, err)
	}
	report.UploadKey = hres.Response.S3Key

	o.mu.Lock()
	o.destReceived = true
	o.destination = hres.Destination
	o.mu.Unlock()

	if err := o.transition(StateTransferring, ReasonNone, nil); err != nil {
		return o.fail(report, ReasonFatal, err)
	}

	if err := o.transfer(netCtx, sess, hres.Destination, report); err != nil {
		return o.fail(report, ReasonTransferFailed, err)
	}

	if err := o.transition(StateComplete, ReasonNone, nil); err != nil {
		return o.fail(report, ReasonFatal, err)
	}
	report.State = StateComplete
	o.finish(report)

	log.Printf("[SESSION] Completed %s: ecg=%d imu=%d size=%d bytes key=%s",
		sess.ID, report.NumECG, report.NumIMU, report.FileSize, report.UploadKey)
	return report, nil
}

func (o *Orchestrator) requestDestination(ctx context.Context, sess Session, fileSize int64, report *Report) (handshake.Result, error) {
	var (
		res handshake.Result
		err error
	)
	for attempt := 1; attempt <= o.cfg.UploadAttempts; attempt++ {
		report.HandshakeAttempts = attempt
		res, err = o.handshake.RequestDestination(ctx, sess.ID, sess.StartedAt, fileSize)
		if err == nil {
			return res, nil
		}
		log.Printf("[WARN] Handshake attempt %d/%d for %s failed (%s): %v",
			attempt, o.cfg.UploadAttempts, sess.ID, res.Outcome, err)
		if attempt < o.cfg.UploadAttempts {
			o.clock.Sleep(o.cfg.RetryBackoff)
		}
	}
	return res, err
}

func (o *Orchestrator) transfer(ctx context.Context, sess Session, destination string, report *Report) error {
	var err error
	for attempt := 1; attempt <= o.cfg.UploadAttempts; attempt++ {
		report.TransferAttempts = attempt
		res, uerr := o.uploader.Upload(ctx, sess.Path, destination)
		report.TransferStatus = res.Status
		report.Checksum = res.Checksum
		if uerr == nil {
			return nil
		}
		err = uerr
		log.Printf("[WARN] Transfer attempt %d/%d for %s failed: %v",
			attempt, o.cfg.UploadAttempts, sess.ID, err)
		if attempt < o.cfg.UploadAttempts {
			o.clock.Sleep(o.cfg.RetryBackoff)
		}
	}
	return err
}

func (o *Orchestrator) fail(report *Report, reason Reason, err error) (*Report, error) {
	report.State = StateError
	report.Reason = reason
	report.Error = err.Error()

	if terr := o.transition(StateError, reason, nil); terr != nil {
		log.Printf("[ERROR] %v", terr)
	}
	o.finish(report)

	log.Printf("[ERROR] Session %s failed: reason=%s ecg=%d imu=%d size=%d partial_writes=%d: %v",
		report.Session.ID, reason, report.NumECG, report.NumIMU, report.FileSize, report.PartialWrites, err)
	return report, &SessionError{Reason: reason, Err: err}
}

func (o *Orchestrator) finish(report *Report) {
	report.FinishedAt = o.wall()

	o.mu.Lock()
	o.lastReport = report
	o.progress = nil
	o.mu.Unlock()

	o.emit(Event{Type: EventReport, SessionID: report.Session.ID, Reason: report.Reason, Report: report})
}

// Reset возвращает конвейер в Init после терминального состояния
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.Terminal() {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, o.state)
	}
	o.state = StateInit
	o.session = nil
	o.destReceived = false
	o.destination = ""
	return nil
}

func (o *Orchestrator) transition(to State, reason Reason, sess *Session) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	from := o.state
	if !canTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	if sess != nil {
		o.session = sess
	}
	id := ""
	if o.session != nil {
		id = o.session.ID
	}
	o.mu.Unlock()

	log.Printf("[SESSION] %s: %s -> %s", id, from, to)
	o.emit(Event{Type: EventTransition, SessionID: id, From: from, To: to, Reason: reason})
	return nil
}

// newSession выводит id из грубого времени; при повторе секунды id сдвигается
func (o *Orchestrator) newSession() Session {
	now := o.wall()

	o.mu.Lock()
	n := uint32(now.Unix())
	if n <= o.lastNumber {
		n = o.lastNumber + 1
	}
	o.lastNumber = n
	o.mu.Unlock()

	return Session{
		ID:        fmt.Sprintf("session_%d", n),
		Number:    n,
		Path:      fmt.Sprintf("session_%d.bin", n),
		ECGRateHz: o.cfg.ECGRateHz,
		IMURateHz: o.cfg.IMURateHz,
		StartedAt: now,
	}
}

// emit не блокирует цикл захвата: при переполнении событие теряется
func (o *Orchestrator) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = o.wall()
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}

	select {
	case o.events <- ev:
	default:
		log.Printf("[WARN] Event channel full, dropping %s event", ev.Type)
	}
}

func (o *Orchestrator) dispatch() {
	defer close(o.done)
	for ev := range o.events {
		for _, obs := range o.observers {
			obs.HandleEvent(ev)
		}
	}
}

// Close останавливает рассылку, дождавшись доставки накопленных событий
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.events)
	o.mu.Unlock()

	<-o.done
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{
		State:               o.state,
		DestinationReceived: o.destReceived,
	}
	if o.session != nil {
		s := *o.session
		snap.Session = &s
	}
	if o.progress != nil {
		p := *o.progress
		snap.Progress = &p
	}
	if o.lastReport != nil {
		r := *o.lastReport
		snap.LastReport = &r
	}
	return snap
}
