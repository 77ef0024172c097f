package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/frame"
	"github.com/Krimson/holter-monitory/device/internal/sampler"
	"github.com/Krimson/holter-monitory/device/internal/writer"
)

// capture открывает файл и гоняет планировщик до истечения длительности.
// Сеть здесь не трогается: между тиками только сброс на карту и события.
func (o *Orchestrator) capture(ctx context.Context, sess Session, report *Report) (*writer.Writer, error) {
	channels := []sampler.ChannelConfig{{Channel: frame.ChannelECG, RateHz: sess.ECGRateHz}}
	if sess.IMURateHz > 0 {
		channels = append(channels, sampler.ChannelConfig{Channel: frame.ChannelIMU, RateHz: sess.IMURateHz})
	}

	// Частоты проверяются до создания файла, иначе заголовок получит усечённое значение
	w := writer.New(o.store, writer.Options{BufferSize: o.cfg.BufferSize})
	sched, err := sampler.New(o.sensor, w, o.cfg.CaptureDuration, channels...)
	if err != nil {
		return nil, &SessionError{Reason: ReasonFatal, Err: err}
	}

	if err := w.Open(writer.Session{
		Path:      sess.Path,
		DeviceID:  o.cfg.DeviceID,
		SessionID: sess.Number,
		ECGRate:   uint16(sess.ECGRateHz),
		IMURate:   uint16(sess.IMURateHz),
	}); err != nil {
		log.Printf("[WARN] %s: capturing in degraded mode: %v", sess.ID, err)
	}

	now := o.clock.Now()
	sched.Start(now)
	lastSync, lastProgress := now, now

	for {
		now = o.clock.Now()
		done, err := sched.Tick(now)
		if err != nil {
			w.Abort()
			return nil, &SessionError{Reason: ReasonFatal, Err: err}
		}
		if done {
			break
		}

		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, &SessionError{Reason: ReasonAborted, Err: err}
		}

		if o.cfg.FlushInterval > 0 && now.Sub(lastSync) >= o.cfg.FlushInterval {
			if err := w.Sync(); err != nil {
				log.Printf("[WARN] %s: periodic flush failed: %v", sess.ID, err)
			}
			lastSync = now
		}
		if o.cfg.ProgressInterval > 0 && now.Sub(lastProgress) >= o.cfg.ProgressInterval {
			o.reportProgress(sess, sched, w, now)
			lastProgress = now
		}

		o.clock.Sleep(sched.NextDue().Sub(o.clock.Now()))
	}

	report.Channels = sched.Stats()
	for _, ch := range report.Channels {
		report.ReadErrors += ch.ReadErrors
	}
	report.PartialWrites = w.PartialWrites()
	if report.PartialWrites > 0 {
		log.Printf("[WARN] %s: reason=%s count=%d, capture continued", sess.ID, ReasonPartialWrite, report.PartialWrites)
	}
	log.Printf("[CAPTURE] %s: capture complete after %v", sess.ID, o.clock.Now().Sub(sched.StartedAt()).Round(time.Millisecond))
	return w, nil
}

func (o *Orchestrator) reportProgress(sess Session, sched *sampler.Scheduler, w *writer.Writer, now time.Time) {
	ecg, imu := w.Counts()
	p := &Progress{
		ElapsedSec:  now.Sub(sched.StartedAt()).Seconds(),
		DurationSec: sched.Duration().Seconds(),
		Fraction:    sched.Progress(now),
		NumECG:      ecg,
		NumIMU:      imu,
		Persisting:  w.IsPersisting(),
	}

	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()

	log.Printf("[CAPTURE] %s: %.1fs/%.0fs (%.0f%%) ecg=%d imu=%d",
		sess.ID, p.ElapsedSec, p.DurationSec, p.Fraction*100, ecg, imu)
	o.emit(Event{Type: EventProgress, SessionID: sess.ID, Progress: p})
}
