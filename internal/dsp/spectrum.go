package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}

// Spectrum computes DC-centred power spectra of I/Q blocks in dB relative to
// full scale. The Hamming window and FFT plan are built once for a fixed size
// and reused.
type Spectrum struct {
	mu     sync.Mutex
	size   int
	win    []float64
	winSum float64
	fft    *fourier.CmplxFFT
}

// NewSpectrum prepares a spectrum of size bins.
func NewSpectrum(size int) *Spectrum {
	win := Hamming(size)
	return &Spectrum{
		size:   size,
		win:    win,
		winSum: floats.Sum(win),
		fft:    fourier.NewCmplxFFT(size),
	}
}

// Size returns the number of bins.
func (s *Spectrum) Size() int { return s.size }

// DBFS transforms the first Size samples of block. It returns nil when the
// block is shorter than that.
func (s *Spectrum) DBFS(block []complex64) []float64 {
	if s.size == 0 || len(block) < s.size {
		return nil
	}
	windowed := ApplyWindow(block[:s.size], s.win)

	s.mu.Lock()
	coeffs := s.fft.Coefficients(nil, windowed)
	s.mu.Unlock()

	shifted := FFTShift(coeffs)
	db := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v) / s.winSum
		if mag == 0 {
			db[i] = math.Inf(-1)
			continue
		}
		db[i] = 20 * math.Log10(mag)
	}
	return db
}
