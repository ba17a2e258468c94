package rtltcp

import "hz.tools/sdr"

// ConvertU8 converts an interleaved unsigned 8-bit I/Q buffer into complex
// baseband samples. A trailing odd byte is ignored.
func ConvertU8(buf []byte) sdr.SamplesC64 {
	iq := make(sdr.SamplesU8, len(buf)/2)
	if len(iq) == 0 {
		return sdr.SamplesC64{}
	}
	copy(sdr.MustUnsafeSamplesAsBytes(iq), buf)
	return toC64(iq)
}

func toC64(iq sdr.SamplesU8) sdr.SamplesC64 {
	out := make(sdr.SamplesC64, len(iq))
	if _, err := iq.ToC64(out); err != nil {
		return nil
	}
	return out
}

// InterleaveU8 is the inverse of ConvertU8. Components are clipped to
// [-1, 1] first. It is used to synthesise server streams.
func InterleaveU8(samples sdr.SamplesC64) []byte {
	if len(samples) == 0 {
		return []byte{}
	}
	clipped := make(sdr.SamplesC64, len(samples))
	for i, s := range samples {
		clipped[i] = complex(clip(real(s)), clip(imag(s)))
	}
	iq := make(sdr.SamplesU8, len(clipped))
	if _, err := clipped.ToU8(iq); err != nil {
		return nil
	}
	return sdr.MustUnsafeSamplesAsBytes(iq)
}

func clip(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
