package dsp

import (
	"math"
	"testing"
)

func tone(n int, step float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		p := step * float64(i)
		out[i] = complex64(complex(math.Cos(p), math.Sin(p)))
	}
	return out
}

func TestDemodulateLength(t *testing.T) {
	d := NewDiscriminator()
	if got := d.Demodulate(tone(10, 0.1)); len(got) != 9 {
		t.Fatalf("expected 9 samples, got %d", len(got))
	}
	if got := d.Demodulate([]complex64{1}); len(got) != 0 {
		t.Fatalf("expected empty output for single sample, got %d", len(got))
	}
}

func TestDemodulateConstantStepAndBias(t *testing.T) {
	const step = 0.2
	d := NewDiscriminator()
	out := d.Demodulate(tone(4, step))

	// First sample sees zero bias, later ones subtract the previous estimate.
	if math.Abs(out[0]-step) > 1e-6 {
		t.Fatalf("first sample: expected %.3f got %.6f", step, out[0])
	}
	wantBias := 0.01 * step
	if math.Abs(out[1]-(step-wantBias)) > 1e-6 {
		t.Fatalf("second sample: expected %.6f got %.6f", step-wantBias, out[1])
	}
	if d.Bias() <= 0 {
		t.Fatalf("bias should track the positive offset, got %v", d.Bias())
	}
}

func TestDemodulateWrapsPhase(t *testing.T) {
	d := NewDiscriminator()
	// A step of 3*pi/2 wraps to -pi/2.
	out := d.Demodulate(tone(2, 3*math.Pi/2))
	if math.Abs(out[0]+math.Pi/2) > 1e-5 {
		t.Fatalf("expected -pi/2, got %v", out[0])
	}
}

func TestDemodulateBiasDecaysOnSteadyCarrier(t *testing.T) {
	d := NewDiscriminator()
	d.Demodulate(tone(2048, 0.3))
	if d.Bias() < 0.2 {
		t.Fatalf("bias should have converged toward the offset, got %v", d.Bias())
	}

	still := make([]complex64, 1024)
	for i := range still {
		still[i] = complex(0.7, 0.7)
	}
	var out []float64
	for i := 0; i < 4; i++ {
		out = d.Demodulate(still)
	}
	if math.Abs(d.Bias()) > 1e-6 {
		t.Fatalf("bias should decay toward zero, got %v", d.Bias())
	}
	if math.Abs(out[len(out)-1]) > 1e-6 {
		t.Fatalf("output should decay toward zero, got %v", out[len(out)-1])
	}
}

func TestDemodulateDoesNotMutateInput(t *testing.T) {
	in := tone(16, 0.5)
	cp := append([]complex64(nil), in...)
	NewDiscriminator().Demodulate(in)
	for i := range in {
		if in[i] != cp[i] {
			t.Fatalf("input modified at %d", i)
		}
	}
}
