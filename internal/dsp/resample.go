package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Resampler converts a real stream by the rational factor up/down using a
// polyphase FIR. Filter history and output phase carry over between calls,
// so feeding a stream in pieces gives the same result as feeding it whole.
type Resampler struct {
	up, down  int
	branches  [][]float64
	branchLen int
	hist      []float64
	phase     int
}

// NewResampler builds a resampler from inRate to outRate (both in Hz).
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("resampler rates must be positive (in=%d out=%d)", inRate, outRate)
	}
	g := gcd(inRate, outRate)
	up, down := outRate/g, inRate/g

	proto := designLowPass(up, down)
	q := len(proto) / up
	branches := make([][]float64, up)
	for k := range branches {
		b := make([]float64, q)
		for j := range b {
			b[j] = proto[k+j*up]
		}
		branches[k] = b
	}
	return &Resampler{
		up:        up,
		down:      down,
		branches:  branches,
		branchLen: q,
		hist:      make([]float64, q-1),
	}, nil
}

// Ratio returns the reduced up and down factors.
func (r *Resampler) Ratio() (up, down int) { return r.up, r.down }

// Process resamples one block.
func (r *Resampler) Process(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}
	q := r.branchLen
	n := len(x)
	ext := make([]float64, q-1+n)
	copy(ext, r.hist)
	copy(ext[q-1:], x)

	out := make([]float64, 0, n*r.up/r.down+1)
	for {
		i := r.phase / r.up
		if i >= n {
			break
		}
		h := r.branches[r.phase%r.up]
		base := q - 1 + i
		var acc float64
		for j, c := range h {
			acc += c * ext[base-j]
		}
		out = append(out, acc)
		r.phase += r.down
	}
	r.phase -= n * r.up
	copy(r.hist, ext[len(ext)-(q-1):])
	return out
}

// Reset clears filter history and phase.
func (r *Resampler) Reset() {
	for i := range r.hist {
		r.hist[i] = 0
	}
	r.phase = 0
}

// designLowPass returns a Blackman windowed-sinc anti-aliasing filter with
// cutoff 1/max(up, down) of Nyquist and a DC gain of up, padded to a multiple
// of up taps.
func designLowPass(up, down int) []float64 {
	maxRate := up
	if down > maxRate {
		maxRate = down
	}
	fc := 1 / float64(maxRate)
	half := 10 * maxRate
	n := 2*half + 1

	h := make([]float64, n)
	for i := range h {
		h[i] = 1
	}
	window.Blackman(h)
	for i := range h {
		h[i] *= fc * sinc(fc*float64(i-half))
	}
	floats.Scale(float64(up)/floats.Sum(h), h)

	if rem := len(h) % up; rem != 0 {
		h = append(h, make([]float64, up-rem)...)
	}
	return h
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
