package dsp

import (
	"math"
	"testing"
)

func TestHammingShape(t *testing.T) {
	const n = 1025
	win := Hamming(n)
	if len(win) != n {
		t.Fatalf("expected %d taps, got %d", n, len(win))
	}
	if math.Abs(win[0]-0.08) > 1e-12 || math.Abs(win[n-1]-0.08) > 1e-12 {
		t.Fatalf("endpoints should be 0.08, got %v and %v", win[0], win[n-1])
	}
	if math.Abs(win[n/2]-1) > 1e-12 {
		t.Fatalf("centre tap should be 1, got %v", win[n/2])
	}
	var sum float64
	for i := 0; i < n; i++ {
		if math.Abs(win[i]-win[n-1-i]) > 1e-12 {
			t.Fatalf("window not symmetric at %d", i)
		}
		sum += win[i]
	}
	// Sum of a symmetric Hamming window is 0.54n - 0.46.
	if want := 0.54*n - 0.46; math.Abs(sum-want) > 1e-9 {
		t.Fatalf("sum %v, want %v", sum, want)
	}
}

func TestHammingDegenerateLengths(t *testing.T) {
	for _, n := range []int{0, -3} {
		if win := Hamming(n); win == nil || len(win) != 0 {
			t.Fatalf("Hamming(%d) should be empty, got %v", n, win)
		}
	}
	if win := Hamming(1); len(win) != 1 || win[0] != 1 {
		t.Fatalf("Hamming(1) should be a single unit tap, got %v", win)
	}
}

func TestSpectrumNormalisesByWindowSum(t *testing.T) {
	s := NewSpectrum(1024)
	if len(s.win) != 1024 {
		t.Fatalf("expected 1024 taps, got %d", len(s.win))
	}
	if math.Abs(s.winSum-552.5) > 1e-9 {
		t.Fatalf("window sum %v, want 552.5", s.winSum)
	}
}

func TestApplyWindowScalesBothComponents(t *testing.T) {
	samples := []complex64{3 - 2i, -1 + 4i, 0.5 + 0.5i}
	win := []float64{0.08, 1, 0.25}
	out := ApplyWindow(samples, win)
	want := []complex128{0.24 - 0.16i, -1 + 4i, 0.125 + 0.125i}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: %d", len(out))
	}
	for i := range want {
		if math.Abs(real(out[i])-real(want[i])) > 1e-6 || math.Abs(imag(out[i])-imag(want[i])) > 1e-6 {
			t.Fatalf("index %d: got %v want %v", i, out[i], want[i])
		}
	}
	if len(ApplyWindow(samples, []float64{1})) != 0 {
		t.Fatalf("expected empty slice when lengths differ")
	}
}
