package playback

import (
	"fmt"
	"sync"

	"hz.tools/pulseaudio"

	"github.com/rjboer/GoFM/internal/logging"
)

// PulseSink writes audio to a PulseAudio server. Writes block on the server,
// which paces the drain loop.
type PulseSink struct {
	buf    *Buffer
	rate   int
	logger logging.Logger

	mu     sync.Mutex
	writer *pulseaudio.Writer
	done   chan struct{}
	exited chan struct{}
}

// NewPulseSink returns a sink for buf at rate Hz.
func NewPulseSink(buf *Buffer, rate int, logger logging.Logger) *PulseSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &PulseSink{buf: buf, rate: rate, logger: logger.With(logging.Subsystem("pulseaudio"))}
}

func (s *PulseSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return ErrSinkRunning
	}
	writer, err := pulseaudio.NewWriter(pulseaudio.Config{
		Format:     pulseaudio.SampleFormatFloat32NE,
		Rate:       uint(s.rate),
		AppName:    "gofm",
		StreamName: "fm",
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("open pulseaudio stream: %w", err)
	}
	s.writer = writer
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	go s.drain(writer, s.done, s.exited)
	s.logger.Info("audio output started", logging.F("rate", s.rate))
	return nil
}

func (s *PulseSink) drain(writer *pulseaudio.Writer, done, exited chan struct{}) {
	defer close(exited)
	chunk := make([]float32, s.buf.ChunkSize())
	for {
		select {
		case <-done:
			return
		default:
		}
		s.buf.PullInto(chunk)
		if err := writer.Write(chunk); err != nil {
			s.logger.Error("pulseaudio write failed", logging.F("err", err))
			return
		}
	}
}

func (s *PulseSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	close(s.done)
	<-s.exited
	s.writer.Close()
	s.writer, s.done, s.exited = nil, nil, nil
	s.logger.Info("audio output stopped")
	return nil
}
