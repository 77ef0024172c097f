package sampler

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Krimson/holter-monitory/device/internal/frame"
)

// SyntheticConfig - параметры синтетических датчиков
type SyntheticConfig struct {
	HeartRateBPM float64 `yaml:"heart_rate_bpm"`
	AmplitudeMV  float64 `yaml:"amplitude_mv"`
	NoiseMV      float64 `yaml:"noise_mv"`
	MotionG      float64 `yaml:"motion_g"`
	Seed         int64   `yaml:"seed"`
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		HeartRateBPM: 72,
		AmplitudeMV:  1.2,
		NoiseMV:      0.02,
		MotionG:      0.05,
		Seed:         1,
	}
}

// SensorStats содержит статистику источника
type SensorStats struct {
	ECGReads uint64 `json:"ecg_reads"`
	IMUReads uint64 `json:"imu_reads"`
}

// Synthetic заменяет драйверы AD8232 и ADXL345: форма P-QRS-T по времени
// часов, отведение III = II - I, акселерометр с гравитацией по Z.
type Synthetic struct {
	clock Clock
	start time.Time
	cfg   SyntheticConfig

	mu    sync.Mutex
	rand  *rand.Rand
	stats SensorStats
}

func NewSynthetic(clock Clock, cfg SyntheticConfig) *Synthetic {
	if cfg.HeartRateBPM <= 0 {
		cfg.HeartRateBPM = 72
	}
	return &Synthetic{
		clock: clock,
		start: clock.Now(),
		cfg:   cfg,
		rand:  rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *Synthetic) ReadChannel(ch frame.Channel) (frame.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.clock.Now().Sub(s.start).Seconds()

	switch ch {
	case frame.ChannelIMU:
		s.stats.IMUReads++
		sway := s.cfg.MotionG
		return frame.Vector{
			sway*math.Sin(2*math.Pi*0.5*t) + s.noise(sway/10),
			sway*math.Cos(2*math.Pi*0.5*t) + s.noise(sway/10),
			1.0 + s.noise(sway/10),
		}, nil
	default:
		s.stats.ECGReads++
		beat := math.Mod(t*s.cfg.HeartRateBPM/60, 1)
		base := pqrst(beat) * s.cfg.AmplitudeMV
		leadI := 0.6*base + s.noise(s.cfg.NoiseMV)
		leadII := base + s.noise(s.cfg.NoiseMV)
		return frame.Vector{leadI, leadII, leadII - leadI}, nil
	}
}

func (s *Synthetic) noise(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return s.rand.NormFloat64() * sigma
}

// GetStats возвращает статистику источника
func (s *Synthetic) GetStats() SensorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// pqrst - нормированный кардиоцикл как сумма гауссов, phase в [0, 1)
func pqrst(phase float64) float64 {
	waves := [...]struct{ center, amp, width float64 }{
		{0.20, 0.10, 0.025},  // P
		{0.37, -0.15, 0.010}, // Q
		{0.40, 1.00, 0.012},  // R
		{0.43, -0.25, 0.010}, // S
		{0.65, 0.30, 0.050},  // T
	}
	var v float64
	for _, w := range waves {
		d := (phase - w.center) / w.width
		v += w.amp * math.Exp(-0.5*d*d)
	}
	return v
}
