package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooShort is returned when a block is too short for zero-phase filtering.
var ErrTooShort = errors.New("dsp: block too short to filter")

// Biquad is one normalised second-order section in transposed direct form II.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// ButterworthLowPass designs an even-order digital Butterworth low-pass as
// cascaded biquads. cutoff is a fraction of Nyquist in (0, 1).
func ButterworthLowPass(order int, cutoff float64) ([]Biquad, error) {
	if order <= 0 || order%2 != 0 {
		return nil, fmt.Errorf("butterworth order must be positive and even, got %d", order)
	}
	if cutoff <= 0 || cutoff >= 1 {
		return nil, fmt.Errorf("butterworth cutoff must be in (0, 1), got %g", cutoff)
	}

	w0 := math.Pi * cutoff
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	sections := make([]Biquad, order/2)
	for k := range sections {
		q := 1 / (2 * math.Cos(float64(2*k+1)*math.Pi/float64(2*order)))
		alpha := sinw / (2 * q)
		a0 := 1 + alpha
		sections[k] = Biquad{
			B0: (1 - cosw) / 2 / a0,
			B1: (1 - cosw) / a0,
			B2: (1 - cosw) / 2 / a0,
			A1: -2 * cosw / a0,
			A2: (1 - alpha) / a0,
		}
	}
	return sections, nil
}

// filter runs the section over x in place, starting from the steady state
// for a constant input x0.
func (s Biquad) filter(x []float64, x0 float64) {
	z1 := (1 - s.B0) * x0
	z2 := (s.B2 - s.A2) * x0
	for i, v := range x {
		y := s.B0*v + z1
		z1 = s.B1*v - s.A1*y + z2
		z2 = s.B2*v - s.A2*y
		x[i] = y
	}
}

// FiltFilt applies the cascade forwards and then backwards, giving zero phase
// distortion. The block is extended at both ends by odd reflection of
// 3*(order+1) samples; shorter blocks return ErrTooShort.
func FiltFilt(sections []Biquad, x []float64) ([]float64, error) {
	padlen := 3 * (2*len(sections) + 1)
	n := len(x)
	if n <= padlen {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrTooShort, n, padlen)
	}

	ext := make([]float64, n+2*padlen)
	for i := 0; i < padlen; i++ {
		ext[i] = 2*x[0] - x[padlen-i]
		ext[padlen+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[padlen:], x)

	runCascade(sections, ext)
	reverse(ext)
	runCascade(sections, ext)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[padlen:padlen+n])
	return out, nil
}

func runCascade(sections []Biquad, x []float64) {
	x0 := x[0]
	for _, s := range sections {
		s.filter(x, x0)
	}
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
