package dsp

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
)

const (
	// TargetRMS is the loudness every block is normalised to.
	TargetRMS = 0.5

	rmsEpsilon      = 1e-10
	levelScale      = 10
	smoothingOrder  = 4
	smoothingCutoff = 0.1
)

// Conditioner normalises, smooths and clips demodulated audio. The level of
// the most recent block can be read concurrently through Level.
type Conditioner struct {
	sections []Biquad
	level    atomic.Uint64
	bypassed atomic.Uint64
}

// NewConditioner builds a conditioner with the fixed 4th-order, 0.1 cutoff
// smoothing filter.
func NewConditioner() *Conditioner {
	sections, err := ButterworthLowPass(smoothingOrder, smoothingCutoff)
	if err != nil {
		panic(err)
	}
	return &Conditioner{sections: sections}
}

// Process returns a conditioned copy of x. When the smoothing filter cannot
// run the block continues unfiltered.
func (c *Conditioner) Process(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}
	rms := floats.Norm(x, 2)/math.Sqrt(float64(len(x))) + rmsEpsilon
	c.level.Store(math.Float64bits(math.Min(1, rms*levelScale)))

	out := make([]float64, len(x))
	floats.ScaleTo(out, TargetRMS/rms, x)

	if smoothed, err := FiltFilt(c.sections, out); err == nil {
		out = smoothed
	} else {
		c.bypassed.Add(1)
	}

	for i, v := range out {
		switch {
		case v > 1:
			out[i] = 1
		case v < -1:
			out[i] = -1
		}
	}
	return out
}

// Level returns min(1, 10*RMS) of the last processed block.
func (c *Conditioner) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// ResetLevel sets the level reading back to zero.
func (c *Conditioner) ResetLevel() { c.level.Store(0) }

// Bypassed counts blocks that skipped smoothing.
func (c *Conditioner) Bypassed() uint64 { return c.bypassed.Load() }
