package app

import (
	"fmt"
	"time"

	"hz.tools/rf"

	"github.com/rjboer/GoFM/internal/playback"
	"github.com/rjboer/GoFM/rtltcp"
)

// Config captures receiver configuration. After NewPlayer it is only changed
// through the Player's control methods.
type Config struct {
	Host string
	Port int

	Frequency  rf.Hz
	SampleRate rf.Hz
	AudioRate  int
	GainDB     float64
	AGC        bool
	PPM        int

	BlockSize      int // I/Q samples per read
	ChunkSize      int // audio samples per playback chunk
	BufferCapacity int // chunks held by the playback buffer

	ReadTimeout time.Duration
	// MaxReadRetries is the number of consecutive empty reads tolerated
	// before the capture loop gives up. Zero retries forever.
	MaxReadRetries int
	ReadRetryDelay time.Duration
	JoinTimeout    time.Duration

	// SpectrumSize is the FFT length of the baseband spectrum snapshot; zero
	// disables it. SpectrumEvery is the number of blocks between snapshots.
	SpectrumSize  int
	SpectrumEvery int
}

const (
	DefaultFrequency  = rf.Hz(100e6)
	DefaultSampleRate = rf.Hz(1_024_000)
	DefaultAudioRate  = 48_000
	DefaultGainDB     = 30.0
	DefaultBlockSize  = 65_536

	maxGainDB = 50.0
)

// DefaultConfig returns the stock receiver settings: 100 MHz, 1.024 MS/s,
// 48 kHz audio and hardware AGC.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           rtltcp.DefaultPort,
		Frequency:      DefaultFrequency,
		SampleRate:     DefaultSampleRate,
		AudioRate:      DefaultAudioRate,
		GainDB:         DefaultGainDB,
		AGC:            true,
		BlockSize:      DefaultBlockSize,
		ChunkSize:      playback.ChunkSize,
		BufferCapacity: playback.DefaultCapacity,
		ReadTimeout:    rtltcp.DefaultReadTimeout,
		ReadRetryDelay: 10 * time.Millisecond,
		JoinTimeout:    2 * time.Second,
		SpectrumSize:   1024,
		SpectrumEvery:  16,
	}
}

// withDefaults fills zero fields from DefaultConfig. Booleans and PPM are
// taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Frequency == 0 {
		c.Frequency = d.Frequency
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.AudioRate == 0 {
		c.AudioRate = d.AudioRate
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ReadRetryDelay == 0 {
		c.ReadRetryDelay = d.ReadRetryDelay
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.SpectrumEvery == 0 {
		c.SpectrumEvery = d.SpectrumEvery
	}
	c.GainDB = clampGain(c.GainDB)
	return c
}

// Validate reports the first setting the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRate)
	case c.AudioRate <= 0:
		return fmt.Errorf("audio rate must be positive, got %d", c.AudioRate)
	case rf.Hz(c.AudioRate) > c.SampleRate:
		return fmt.Errorf("audio rate %d exceeds sample rate %v", c.AudioRate, c.SampleRate)
	case c.BlockSize < 2:
		return fmt.Errorf("block size must be at least 2, got %d", c.BlockSize)
	case c.MaxReadRetries < 0:
		return fmt.Errorf("max read retries must not be negative")
	case c.SpectrumSize < 0 || c.SpectrumSize&(c.SpectrumSize-1) != 0:
		return fmt.Errorf("spectrum size must be zero or a power of two, got %d", c.SpectrumSize)
	}
	return nil
}

func clampGain(db float64) float64 {
	switch {
	case db < 0:
		return 0
	case db > maxGainDB:
		return maxGainDB
	}
	return db
}
