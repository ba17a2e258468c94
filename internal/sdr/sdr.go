// Package sdr simulates an rtl_tcp sample server for tests and offline runs.
package sdr

import (
	"hz.tools/rf"

	"github.com/rjboer/GoFM/rtltcp"
)

// Config carries the parameters of a simulated station.
type Config struct {
	SampleRate  float64 // I/Q rate in Hz; the client's SET_SAMPLE_RATE overrides it
	ToneHz      float64 // modulating audio tone
	DeviationHz float64 // peak FM deviation
	CarrierHz   float64 // carrier offset from the tuned centre
	Amplitude   float64 // carrier magnitude, 0..1
	Noise       float64 // standard deviation of added complex noise
	BlockSize   int     // samples per write

	// Header makes the server send the 12-byte dongle header first.
	Header bool
	Tuner  rtltcp.TunerType

	// StreamLimit stops sample output after this many bytes while keeping
	// the connection open. Zero streams forever.
	StreamLimit int
	// Realtime paces writes to SampleRate.
	Realtime bool
}

// Default values applied by withDefaults.
const (
	DefaultSampleRate  = 1_024_000
	DefaultToneHz      = 1000
	DefaultDeviationHz = 75_000
	DefaultBlockSize   = 16_384
)

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ToneHz == 0 {
		c.ToneHz = DefaultToneHz
	}
	if c.DeviationHz == 0 {
		c.DeviationHz = DefaultDeviationHz
	}
	if c.Amplitude == 0 {
		c.Amplitude = 0.8
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c
}

// Tuning mirrors the settings a client has pushed to the server.
type Tuning struct {
	Frequency  rf.Hz
	SampleRate rf.Hz
	Manual     bool
	GainTenths int
	PPM        int
}
