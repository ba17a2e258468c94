package playback

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/rjboer/GoFM/internal/logging"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
)

// WAVSink records the played stream to a 16-bit mono WAV file, pulling
// chunks at real-time pace.
type WAVSink struct {
	buf    *Buffer
	rate   int
	path   string
	logger logging.Logger

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	pcm     *audio.IntBuffer
	err     error
	written int
	p       pacer
}

// NewWAVSink returns a sink that writes buf to path at rate Hz.
func NewWAVSink(buf *Buffer, rate int, path string, logger logging.Logger) *WAVSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &WAVSink{
		buf:    buf,
		rate:   rate,
		path:   path,
		logger: logger.With(logging.Subsystem("wav"), logging.F("path", path)),
	}
}

func (s *WAVSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return ErrSinkRunning
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	s.file = f
	s.enc = wav.NewEncoder(f, s.rate, wavBitDepth, 1, wavPCMFormat)
	s.pcm = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: s.rate},
		Data:           make([]int, s.buf.ChunkSize()),
		SourceBitDepth: wavBitDepth,
	}
	s.err, s.written = nil, 0

	if err := s.p.start(s.buf, ChunkPeriod(s.buf.ChunkSize(), s.rate), s.write); err != nil {
		f.Close()
		s.file, s.enc = nil, nil
		return err
	}
	s.logger.Info("recording started", logging.F("rate", s.rate))
	return nil
}

func (s *WAVSink) write(chunk []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil || s.err != nil {
		return
	}
	for i, v := range chunk {
		s.pcm.Data[i] = int(math.Round(float64(clamp(v)) * math.MaxInt16))
	}
	if err := s.enc.Write(s.pcm); err != nil {
		s.err = err
		s.logger.Error("wav write failed", logging.F("err", err))
		return
	}
	s.written += len(chunk)
}

func (s *WAVSink) Stop() error {
	if !s.p.stop() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.err
	if cerr := s.enc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.logger.Info("recording stopped", logging.F("samples", s.written))
	s.file, s.enc = nil, nil
	if err != nil {
		return fmt.Errorf("finish wav file: %w", err)
	}
	return nil
}

// Written returns the number of samples encoded so far.
func (s *WAVSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
