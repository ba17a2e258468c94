package dsp

import (
	"math/cmplx"
)

// dcPole is the pole of the single-pole DC tracker.
const dcPole = 0.99

// Discriminator recovers FM audio from complex baseband by phase
// differentiation. It keeps a running DC bias estimate between blocks, so
// each receiver needs its own instance.
type Discriminator struct {
	bias float64
}

// NewDiscriminator returns a discriminator with zero bias.
func NewDiscriminator() *Discriminator { return &Discriminator{} }

// Demodulate returns len(samples)-1 audio samples. Each is the phase step
// between consecutive samples, wrapped to (-pi, pi], minus the bias estimate
// from before that sample. The input is not modified.
func (d *Discriminator) Demodulate(samples []complex64) []float64 {
	if len(samples) < 2 {
		return []float64{}
	}
	out := make([]float64, len(samples)-1)
	prev := complex128(samples[0])
	for i := 1; i < len(samples); i++ {
		cur := complex128(samples[i])
		step := cmplx.Phase(cur * cmplx.Conj(prev))
		prev = cur

		out[i-1] = step - d.bias
		d.bias = dcPole*d.bias + (1-dcPole)*step
	}
	return out
}

// Bias returns the current DC estimate.
func (d *Discriminator) Bias() float64 { return d.bias }

// Reset clears the DC estimate.
func (d *Discriminator) Reset() { d.bias = 0 }
