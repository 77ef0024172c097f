package sampler

import (
	"errors"
	"testing"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/frame"
)

// TestSink собирает записанные отсчёты
type TestSink struct {
	records map[frame.Channel][]frame.Record
	err     error
}

func NewTestSink() *TestSink {
	return &TestSink{records: make(map[frame.Channel][]frame.Record)}
}

func (s *TestSink) Record(ch frame.Channel, rec frame.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records[ch] = append(s.records[ch], rec)
	return nil
}

// delaySensor сдвигает часы на каждом чтении, имитируя время обработки
type delaySensor struct {
	clock *FakeClock
	delay time.Duration
	fail  bool
}

func (s *delaySensor) ReadChannel(ch frame.Channel) (frame.Vector, error) {
	s.clock.Advance(s.delay)
	if s.fail {
		return frame.Vector{}, errors.New("i2c timeout")
	}
	return frame.Vector{0.5, 0.5, 0.5}, nil
}

func runToCompletion(t *testing.T, s *Scheduler, clock *FakeClock) int {
	t.Helper()
	s.Start(clock.Now())

	completions := 0
	for i := 0; i < 1_000_000; i++ {
		done, err := s.Tick(clock.Now())
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if done {
			completions++
			break
		}
		clock.Sleep(s.NextDue().Sub(clock.Now()))
	}

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		if done, _ := s.Tick(clock.Now()); done {
			completions++
		}
	}
	return completions
}

func TestScheduler_RateFidelity(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		duration time.Duration
		delay    time.Duration
	}{
		{"250Hz 15s", 250, 15 * time.Second, 0},
		{"250Hz 15s with delay", 250, 15 * time.Second, 3 * time.Millisecond},
		{"250Hz 15s delay of one interval", 250, 15 * time.Second, 4 * time.Millisecond},
		{"100Hz 10s", 100, 10 * time.Second, 0},
		{"3Hz 7s", 3, 7 * time.Second, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFakeClock(time.Unix(1700000000, 0))
			sink := NewTestSink()
			s, err := New(&delaySensor{clock: clock, delay: tt.delay}, sink, tt.duration,
				ChannelConfig{Channel: frame.ChannelECG, RateHz: tt.rate})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			if c := runToCompletion(t, s, clock); c != 1 {
				t.Errorf("Expected completion reported once, got %d", c)
			}

			want := int(float64(tt.rate) * tt.duration.Seconds())
			got := len(sink.records[frame.ChannelECG])
			if got < want-1 || got > want+1 {
				t.Errorf("Expected %d±1 fires, got %d", want, got)
			}
		})
	}
}

func TestScheduler_CatchUpAfterStall(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	sink := NewTestSink()
	s, _ := New(&delaySensor{clock: clock}, sink, 10*time.Second,
		ChannelConfig{Channel: frame.ChannelECG, RateHz: 250})
	s.Start(clock.Now())

	s.Tick(clock.Now())
	if len(sink.records[frame.ChannelECG]) != 1 {
		t.Fatalf("Expected first sample at start, got %d", len(sink.records[frame.ChannelECG]))
	}

	// 1 секунда без тиков
	clock.Advance(time.Second)
	s.Tick(clock.Now())

	if got := len(sink.records[frame.ChannelECG]); got != 251 {
		t.Errorf("Expected 251 samples after catch-up, got %d", got)
	}
	wantNext := time.Unix(0, 0).Add(251 * 4 * time.Millisecond)
	if !s.NextDue().Equal(wantNext) {
		t.Errorf("Expected next due %v, got %v", wantNext, s.NextDue())
	}
}

func TestScheduler_MultipleChannels(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	sink := NewTestSink()
	s, err := New(&delaySensor{clock: clock}, sink, 15*time.Second,
		ChannelConfig{Channel: frame.ChannelECG, RateHz: 250},
		ChannelConfig{Channel: frame.ChannelIMU, RateHz: 50})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	runToCompletion(t, s, clock)

	if got := len(sink.records[frame.ChannelECG]); got != 3750 {
		t.Errorf("Expected 3750 ecg samples, got %d", got)
	}
	if got := len(sink.records[frame.ChannelIMU]); got != 750 {
		t.Errorf("Expected 750 imu samples, got %d", got)
	}
}

func TestScheduler_ReadErrorKeepsTimeAxis(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	sink := NewTestSink()
	s, _ := New(&delaySensor{clock: clock, fail: true}, sink, time.Second,
		ChannelConfig{Channel: frame.ChannelECG, RateHz: 10})

	runToCompletion(t, s, clock)

	if got := len(sink.records[frame.ChannelECG]); got != 10 {
		t.Fatalf("Expected 10 samples, got %d", got)
	}
	if sink.records[frame.ChannelECG][0] != (frame.Record{}) {
		t.Errorf("Expected zero record on read error, got %v", sink.records[frame.ChannelECG][0])
	}
	if stats := s.Stats(); stats[0].ReadErrors != 10 {
		t.Errorf("Expected 10 read errors, got %d", stats[0].ReadErrors)
	}
}

func TestScheduler_SinkErrorStops(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	sink := NewTestSink()
	sink.err = errors.New("writer closed")
	s, _ := New(&delaySensor{clock: clock}, sink, time.Second,
		ChannelConfig{Channel: frame.ChannelECG, RateHz: 10})
	s.Start(clock.Now())

	if _, err := s.Tick(clock.Now()); err == nil {
		t.Errorf("Expected sink error to propagate")
	}
}

func TestScheduler_Validation(t *testing.T) {
	if _, err := New(nil, nil, time.Second); !errors.Is(err, ErrNoChannels) {
		t.Errorf("Expected ErrNoChannels, got %v", err)
	}
	if _, err := New(nil, nil, time.Second, ChannelConfig{RateHz: 0}); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Expected ErrInvalidRate, got %v", err)
	}
	if _, err := New(nil, nil, time.Second, ChannelConfig{RateHz: MaxRateHz + 1}); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Expected ErrInvalidRate above %d Hz, got %v", MaxRateHz, err)
	}
	if _, err := New(nil, nil, time.Second, ChannelConfig{RateHz: MaxRateHz}); err != nil {
		t.Errorf("Expected %d Hz to be accepted, got %v", MaxRateHz, err)
	}

	s, _ := New(nil, nil, time.Second, ChannelConfig{RateHz: 1})
	if _, err := s.Tick(time.Now()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestInterval(t *testing.T) {
	if got := Interval(250); got != 4*time.Millisecond {
		t.Errorf("Expected 4ms, got %v", got)
	}
	if got := Interval(3); got != 333333*time.Microsecond {
		t.Errorf("Expected 333333us, got %v", got)
	}
}

func TestSynthetic_LeadIII(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	s := NewSynthetic(clock, DefaultSyntheticConfig())

	for i := 0; i < 100; i++ {
		clock.Advance(4 * time.Millisecond)
		v, err := s.ReadChannel(frame.ChannelECG)
		if err != nil {
			t.Fatalf("ReadChannel failed: %v", err)
		}
		if d := v[2] - (v[1] - v[0]); d > 1e-9 || d < -1e-9 {
			t.Fatalf("Expected lead III = II - I, got %v", v)
		}
	}

	imu, _ := s.ReadChannel(frame.ChannelIMU)
	if imu[2] < 0.9 || imu[2] > 1.1 {
		t.Errorf("Expected gravity on Z, got %f", imu[2])
	}
	if stats := s.GetStats(); stats.ECGReads != 100 || stats.IMUReads != 1 {
		t.Errorf("Expected 100/1 reads, got %+v", stats)
	}
}
