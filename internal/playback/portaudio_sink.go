package playback

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rjboer/GoFM/internal/logging"
)

// PortAudioSink plays mono float32 audio on the default output device. The
// device callback pulls straight from the buffer.
type PortAudioSink struct {
	buf    *Buffer
	rate   int
	logger logging.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewPortAudioSink returns a sink for buf at rate Hz.
func NewPortAudioSink(buf *Buffer, rate int, logger logging.Logger) *PortAudioSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &PortAudioSink{buf: buf, rate: rate, logger: logger.With(logging.Subsystem("portaudio"))}
}

func (s *PortAudioSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return ErrSinkRunning
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(s.rate), s.buf.ChunkSize(), func(out []float32) {
		s.buf.PullInto(out)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream
	s.logger.Info("audio output started", logging.F("rate", s.rate), logging.F("frames", s.buf.ChunkSize()))
	return nil
}

func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil

	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stop output stream: %w", err)
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close output stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio terminate: %w", err)
	}
	s.logger.Info("audio output stopped")
	return firstErr
}
