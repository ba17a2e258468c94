package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"hz.tools/rf"

	"github.com/rjboer/GoFM/internal/app"
	"github.com/rjboer/GoFM/internal/logging"
	"github.com/rjboer/GoFM/internal/playback"
	"github.com/rjboer/GoFM/rtltcp"
)

type lookupFunc func(string) (string, bool)

type logConfig struct {
	level  string
	format string
}

type cliConfig struct {
	host           string
	port           int
	discover       bool
	frequency      string
	sampleRate     float64
	audioRate      int
	gain           float64
	agc            bool
	ppm            int
	blockSize      int
	bufferChunks   int
	readTimeout    time.Duration
	maxReadRetries int
	retryDelay     time.Duration
	spectrumSize   int

	sink    string
	wavPath string

	webAddr      string
	historyLimit int
	statusEvery  time.Duration

	sshHost     string
	sshPort     int
	sshUser     string
	sshPassword string
	sshKey      string
}

func bindLogFlags(fs *pflag.FlagSet, cfg *logConfig, lookup lookupFunc) {
	fs.StringVar(&cfg.level, "log-level", envString(lookup, "GOFM_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.format, "log-format", envString(lookup, "GOFM_LOG_FORMAT", "console"), "Log format (text|json|console)")
}

func bindListenFlags(fs *pflag.FlagSet, cfg *cliConfig, lookup lookupFunc) {
	d := app.DefaultConfig()
	fs.StringVar(&cfg.host, "host", envString(lookup, "GOFM_HOST", d.Host), "rtl_tcp server host")
	fs.IntVar(&cfg.port, "port", envInt(lookup, "GOFM_PORT", d.Port), "rtl_tcp server port")
	fs.BoolVar(&cfg.discover, "discover", envBool(lookup, "GOFM_DISCOVER", false), "Find the rtl_tcp server via mDNS instead of --host/--port")
	fs.StringVar(&cfg.frequency, "freq", envString(lookup, "GOFM_FREQ", "100"), "Station frequency in MHz, or with a unit (e.g. 96.5MHz)")
	fs.Float64Var(&cfg.sampleRate, "sample-rate", envFloat(lookup, "GOFM_SAMPLE_RATE", float64(d.SampleRate)), "SDR sample rate in Hz")
	fs.IntVar(&cfg.audioRate, "audio-rate", envInt(lookup, "GOFM_AUDIO_RATE", d.AudioRate), "Audio output rate in Hz")
	fs.Float64Var(&cfg.gain, "gain", envFloat(lookup, "GOFM_GAIN", d.GainDB), "Manual tuner gain in dB (used with --agc=false)")
	fs.BoolVar(&cfg.agc, "agc", envBool(lookup, "GOFM_AGC", d.AGC), "Use tuner AGC")
	fs.IntVar(&cfg.ppm, "ppm", envInt(lookup, "GOFM_PPM", d.PPM), "Frequency correction in ppm")
	fs.IntVar(&cfg.blockSize, "block-size", envInt(lookup, "GOFM_BLOCK_SIZE", d.BlockSize), "I/Q samples per read")
	fs.IntVar(&cfg.bufferChunks, "buffer-chunks", envInt(lookup, "GOFM_BUFFER_CHUNKS", d.BufferCapacity), "Playback buffer capacity in chunks")
	fs.DurationVar(&cfg.readTimeout, "read-timeout", envDuration(lookup, "GOFM_READ_TIMEOUT", d.ReadTimeout), "Socket read timeout")
	fs.IntVar(&cfg.maxReadRetries, "max-read-retries", envInt(lookup, "GOFM_MAX_READ_RETRIES", 0), "Consecutive empty reads before giving up (0 retries forever)")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", envDuration(lookup, "GOFM_RETRY_DELAY", d.ReadRetryDelay), "Pause after an empty read")
	fs.IntVar(&cfg.spectrumSize, "spectrum-size", envInt(lookup, "GOFM_SPECTRUM_SIZE", d.SpectrumSize), "FFT size of the spectrum snapshot (0 disables)")

	fs.StringVar(&cfg.sink, "sink", envString(lookup, "GOFM_SINK", "portaudio"), "Audio sink (portaudio|pulse|wav|none)")
	fs.StringVar(&cfg.wavPath, "wav-path", envString(lookup, "GOFM_WAV_PATH", "gofm.wav"), "Output file for --sink=wav")

	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "GOFM_WEB_ADDR", ":8080"), "Web telemetry listen address (empty disables)")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "GOFM_HISTORY_LIMIT", 500), "Maximum samples kept in telemetry history")
	fs.DurationVar(&cfg.statusEvery, "status-every", envDuration(lookup, "GOFM_STATUS_EVERY", 5*time.Second), "Interval between status log lines")

	fs.StringVar(&cfg.sshHost, "ssh-host", envString(lookup, "GOFM_SSH_HOST", ""), "Reach the rtl_tcp server through this SSH host")
	fs.IntVar(&cfg.sshPort, "ssh-port", envInt(lookup, "GOFM_SSH_PORT", 22), "SSH port")
	fs.StringVar(&cfg.sshUser, "ssh-user", envString(lookup, "GOFM_SSH_USER", "root"), "SSH user")
	fs.StringVar(&cfg.sshPassword, "ssh-password", envString(lookup, "GOFM_SSH_PASSWORD", ""), "SSH password")
	fs.StringVar(&cfg.sshKey, "ssh-key", envString(lookup, "GOFM_SSH_KEY", ""), "SSH private key file")
}

// parseConfig parses listen flags on a fresh flag set with defaults taken
// from lookup.
func parseConfig(args []string, lookup lookupFunc) (cliConfig, error) {
	cfg := cliConfig{}
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	bindListenFlags(fs, &cfg, lookup)
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

// playerConfig converts the CLI values into a validated app.Config.
func (c cliConfig) playerConfig() (app.Config, error) {
	freq, err := parseFrequency(c.frequency)
	if err != nil {
		return app.Config{}, err
	}
	d := app.DefaultConfig()
	cfg := app.Config{
		Host:           c.host,
		Port:           c.port,
		Frequency:      freq,
		SampleRate:     rf.Hz(c.sampleRate),
		AudioRate:      c.audioRate,
		GainDB:         c.gain,
		AGC:            c.agc,
		PPM:            c.ppm,
		BlockSize:      c.blockSize,
		ChunkSize:      playback.ChunkSize,
		BufferCapacity: c.bufferChunks,
		ReadTimeout:    c.readTimeout,
		MaxReadRetries: c.maxReadRetries,
		ReadRetryDelay: c.retryDelay,
		JoinTimeout:    d.JoinTimeout,
		SpectrumSize:   c.spectrumSize,
		SpectrumEvery:  d.SpectrumEvery,
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func (c cliConfig) sshConfig() (rtltcp.SSHConfig, bool) {
	if c.sshHost == "" {
		return rtltcp.SSHConfig{}, false
	}
	return rtltcp.SSHConfig{
		Host:     c.sshHost,
		Port:     c.sshPort,
		User:     c.sshUser,
		Password: c.sshPassword,
		KeyPath:  c.sshKey,
	}, true
}

// parseFrequency reads a bare number as MHz and anything else through
// rf.ParseHz.
func parseFrequency(s string) (rf.Hz, error) {
	s = strings.TrimSpace(s)
	if mhz, err := strconv.ParseFloat(s, 64); err == nil {
		if mhz <= 0 {
			return 0, fmt.Errorf("frequency must be positive, got %q", s)
		}
		return rf.Hz(mhz * 1e6), nil
	}
	hz, err := rf.ParseHz(s)
	if err != nil {
		return 0, fmt.Errorf("parse frequency %q: %w", s, err)
	}
	if hz <= 0 {
		return 0, fmt.Errorf("frequency must be positive, got %q", s)
	}
	return hz, nil
}

func newLogger(cfg logConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.format)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

func envFloat(lookup lookupFunc, key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup lookupFunc, key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup lookupFunc, key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup lookupFunc, key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup lookupFunc, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
