package sampler

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/frame"
)

var (
	ErrNoChannels  = errors.New("no channels configured")
	ErrInvalidRate = errors.New("invalid sample rate")
	ErrNotStarted  = errors.New("scheduler not started")
)

// MaxRateHz - предел частоты: поле частоты в заголовке файла 16-битное
const MaxRateHz = math.MaxUint16

// Sensor - источник откалиброванных отсчётов, опрашивается синхронно
type Sensor interface {
	ReadChannel(ch frame.Channel) (frame.Vector, error)
}

// Sink принимает закодированные записи (Session Writer)
type Sink interface {
	Record(ch frame.Channel, rec frame.Record) error
}

type ChannelConfig struct {
	Channel frame.Channel
	RateHz  int
}

// ChannelStats - счётчики канала
type ChannelStats struct {
	Channel    string `json:"channel"`
	RateHz     int    `json:"rate_hz"`
	Fired      uint64 `json:"fired"`
	ReadErrors uint64 `json:"read_errors"`
}

type channelState struct {
	cfg        ChannelConfig
	interval   time.Duration
	next       time.Time
	fired      uint64
	readErrors uint64
}

// Scheduler ведет N каналов с фиксированной частотой от одних часов.
// Отсчёты канала приходятся на start + k*interval для всех моментов раньше
// start + duration.
type Scheduler struct {
	sensor   Sensor
	sink     Sink
	duration time.Duration
	channels []*channelState

	start     time.Time
	deadline  time.Time
	started   bool
	completed bool
}

// Interval - целевой период канала: 1_000_000 / R микросекунд (целочисленно)
func Interval(rateHz int) time.Duration {
	return time.Duration(1_000_000/rateHz) * time.Microsecond
}

func New(sensor Sensor, sink Sink, duration time.Duration, channels ...ChannelConfig) (*Scheduler, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	if duration <= 0 {
		return nil, fmt.Errorf("invalid capture duration %v", duration)
	}

	s := &Scheduler{
		sensor:   sensor,
		sink:     sink,
		duration: duration,
	}
	for _, cfg := range channels {
		if cfg.RateHz <= 0 || cfg.RateHz > MaxRateHz {
			return nil, fmt.Errorf("%w: %s at %d Hz", ErrInvalidRate, cfg.Channel, cfg.RateHz)
		}
		s.channels = append(s.channels, &channelState{
			cfg:      cfg,
			interval: Interval(cfg.RateHz),
		})
	}
	return s, nil
}

// Start фиксирует начало сессии
func (s *Scheduler) Start(now time.Time) {
	s.start = now
	s.deadline = now.Add(s.duration)
	for _, ch := range s.channels {
		ch.next = now
	}
	s.started = true
	s.completed = false
}

// Tick срабатывает по всем каналам, чей срок наступил к now. После задержки
// канал догоняет подряд, сдвигая срок ровно на один интервал за срабатывание.
// done == true возвращается один раз, когда истекла длительность сессии.
func (s *Scheduler) Tick(now time.Time) (done bool, err error) {
	if !s.started {
		return false, ErrNotStarted
	}
	if s.completed {
		return false, nil
	}

	for _, ch := range s.channels {
		for !ch.next.After(now) && ch.next.Before(s.deadline) {
			if err := s.fire(ch); err != nil {
				return false, err
			}
			ch.next = ch.next.Add(ch.interval)
		}
	}

	if !now.Before(s.deadline) {
		s.completed = true
		return true, nil
	}
	return false, nil
}

func (s *Scheduler) fire(ch *channelState) error {
	v, err := s.sensor.ReadChannel(ch.cfg.Channel)
	if err != nil {
		// порядок записей - ось времени, пропускать отсчёт нельзя
		ch.readErrors++
		v = frame.Vector{}
	}

	if err := s.sink.Record(ch.cfg.Channel, frame.Encode(ch.cfg.Channel, v)); err != nil {
		return fmt.Errorf("failed to record %s sample %d: %w", ch.cfg.Channel, ch.fired, err)
	}
	ch.fired++
	return nil
}

// NextDue - ближайший срок срабатывания или конец сессии
func (s *Scheduler) NextDue() time.Time {
	next := s.deadline
	for _, ch := range s.channels {
		if ch.next.Before(next) {
			next = ch.next
		}
	}
	return next
}

func (s *Scheduler) Done() bool { return s.completed }

func (s *Scheduler) StartedAt() time.Time { return s.start }

func (s *Scheduler) Duration() time.Duration { return s.duration }

// Progress возвращает долю прошедшей длительности в [0, 1]
func (s *Scheduler) Progress(now time.Time) float64 {
	if !s.started {
		return 0
	}
	p := float64(now.Sub(s.start)) / float64(s.duration)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

func (s *Scheduler) Stats() []ChannelStats {
	stats := make([]ChannelStats, 0, len(s.channels))
	for _, ch := range s.channels {
		stats = append(stats, ChannelStats{
			Channel:    ch.cfg.Channel.String(),
			RateHz:     ch.cfg.RateHz,
			Fired:      ch.fired,
			ReadErrors: ch.readErrors,
		})
	}
	return stats
}
