package dsp

import (
	"math"
	"testing"
)

func TestSpectrumPeakAtToneBin(t *testing.T) {
	n := 8
	data := make([]complex64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i) / float64(n)
		data[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}
	db := NewSpectrum(n).DBFS(data)
	if len(db) != n {
		t.Fatalf("unexpected length %d", len(db))
	}
	maxIdx := 0
	for i, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
		if v > db[maxIdx] {
			maxIdx = i
		}
	}
	expectedIdx := n/2 + 1
	if maxIdx != expectedIdx {
		t.Fatalf("expected peak at %d got %d", expectedIdx, maxIdx)
	}
	if math.Abs(db[maxIdx]) > 1e-3 {
		t.Fatalf("full scale tone should read 0 dBFS, got %.4f", db[maxIdx])
	}
}

func TestSpectrumShortBlock(t *testing.T) {
	if db := NewSpectrum(16).DBFS(make([]complex64, 4)); db != nil {
		t.Fatalf("expected nil for short block")
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
	if in[0] != 0 {
		t.Fatalf("input was modified")
	}
}
