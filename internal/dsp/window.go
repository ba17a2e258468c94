package dsp

import "gonum.org/v1/gonum/dsp/window"

// Hamming returns a symmetric Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{1}
	}
	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	return window.Hamming(win)
}

// ApplyWindow multiplies the input complex samples with the provided window.
// The window length must match the input length.
func ApplyWindow(samples []complex64, win []float64) []complex128 {
	if len(samples) != len(win) {
		return []complex128{}
	}
	out := make([]complex128, len(samples))
	for i, v := range samples {
		out[i] = complex(float64(real(v))*win[i], float64(imag(v))*win[i])
	}
	return out
}
