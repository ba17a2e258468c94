package sdr

import (
	"math"
	"math/rand"
	"sync"
)

// ToneSource synthesises complex baseband of a carrier frequency-modulated
// by a single audio tone. Carrier and tone phase continue across calls.
type ToneSource struct {
	mu      sync.RWMutex
	cfg     Config
	rng     *rand.Rand
	carrier float64
	tone    float64
}

// NewToneSource returns a source with cfg's defaults filled in.
func NewToneSource(cfg Config, seed int64) *ToneSource {
	return &ToneSource{cfg: cfg.withDefaults(), rng: rand.New(rand.NewSource(seed))}
}

// SetSampleRate changes the synthesis rate.
func (s *ToneSource) SetSampleRate(hz float64) {
	if hz <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.SampleRate = hz
	s.mu.Unlock()
}

// SetToneHz changes the modulating tone while running.
func (s *ToneSource) SetToneHz(hz float64) {
	s.mu.Lock()
	s.cfg.ToneHz = hz
	s.mu.Unlock()
}

// ToneHz returns the current modulating tone.
func (s *ToneSource) ToneHz() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ToneHz
}

// Next returns n samples.
func (s *ToneSource) Next(n int) []complex64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	out := make([]complex64, n)
	toneStep := 2 * math.Pi * cfg.ToneHz / cfg.SampleRate
	beta := cfg.DeviationHz / cfg.ToneHz
	carrierStep := 2 * math.Pi * cfg.CarrierHz / cfg.SampleRate

	for i := range out {
		phase := s.carrier + beta*math.Sin(s.tone)
		re := cfg.Amplitude * math.Cos(phase)
		im := cfg.Amplitude * math.Sin(phase)
		if cfg.Noise > 0 {
			re += s.rng.NormFloat64() * cfg.Noise
			im += s.rng.NormFloat64() * cfg.Noise
		}
		out[i] = complex(float32(re), float32(im))

		s.tone = math.Mod(s.tone+toneStep, 2*math.Pi)
		s.carrier = math.Mod(s.carrier+carrierStep, 2*math.Pi)
	}
	return out
}
