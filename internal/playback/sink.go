package playback

import (
	"errors"
	"sync"
	"time"
)

// ErrSinkRunning is returned by Start on a sink that is already running.
var ErrSinkRunning = errors.New("playback: sink already running")

// Sink drains a Buffer into an output. Stop must be safe to call on a sink
// that was never started or is already stopped.
type Sink interface {
	Start() error
	Stop() error
}

// ChunkPeriod is the playback time of one chunk at rate.
func ChunkPeriod(chunkSize, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(chunkSize) * time.Second / time.Duration(rate)
}

// pacer pulls one chunk per chunk period and hands it to fn. It backs the
// sinks that have no device clock of their own.
type pacer struct {
	mu     sync.Mutex
	done   chan struct{}
	exited chan struct{}
}

func (p *pacer) start(buf *Buffer, period time.Duration, fn func([]float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrSinkRunning
	}
	p.done = make(chan struct{})
	p.exited = make(chan struct{})

	go func(done, exited chan struct{}) {
		defer close(exited)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		chunk := make([]float32, buf.ChunkSize())
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				buf.PullInto(chunk)
				fn(chunk)
			}
		}
	}(p.done, p.exited)
	return nil
}

// stop reports whether the pacer was running.
func (p *pacer) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	close(p.done)
	<-p.exited
	p.done, p.exited = nil, nil
	return true
}

// NullSink consumes audio in real time and discards it. It keeps the
// pipeline paced when no audio device is wanted.
type NullSink struct {
	buf    *Buffer
	period time.Duration
	p      pacer
}

// NewNullSink drains buf at the given sample rate.
func NewNullSink(buf *Buffer, rate int) *NullSink {
	return &NullSink{buf: buf, period: ChunkPeriod(buf.ChunkSize(), rate)}
}

func (s *NullSink) Start() error {
	return s.p.start(s.buf, s.period, func([]float32) {})
}

func (s *NullSink) Stop() error {
	s.p.stop()
	return nil
}
