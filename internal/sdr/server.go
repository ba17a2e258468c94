package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"hz.tools/rf"

	"github.com/rjboer/GoFM/internal/logging"
	"github.com/rjboer/GoFM/rtltcp"
)

// Received is one command frame seen by the server.
type Received struct {
	Cmd   rtltcp.Command
	Value int64
	At    time.Time
}

// Server speaks the rtl_tcp protocol on a TCP listener. Each client gets a
// stream of u8 I/Q bytes from a ToneSource; command frames are decoded,
// recorded and applied to the mirrored Tuning.
type Server struct {
	cfg    Config
	logger logging.Logger
	source *ToneSource

	mu       sync.Mutex
	listener net.Listener
	tuning   Tuning
	received []Received
	conns    map[net.Conn]struct{}
	notify   chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer prepares a server; call Listen and Serve, or Start.
func NewServer(cfg Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		logger: logger.With(logging.Subsystem("mock-rtltcp")),
		source: NewToneSource(cfg, 1),
		tuning: Tuning{SampleRate: rf.Hz(cfg.SampleRate)},
		conns:  make(map[net.Conn]struct{}),
		notify: make(chan struct{}),
	}
}

// Listen binds addr, e.g. "127.0.0.1:0".
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Start listens on addr and serves in the background until Close.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	go func() { _ = s.Serve(context.Background()) }()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr().(*net.TCPAddr)
}

// Source exposes the tone generator for live changes.
func (s *Server) Source() *ToneSource { return s.source }

// Serve accepts clients until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("mock server: Listen not called")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("serving", logging.F("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// Close stops accepting, drops every client and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// DropClients closes every active client connection.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns a copy of every command frame seen so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Tuning returns the settings pushed by clients.
func (s *Server) Tuning() Tuning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

// WaitForCommands blocks until at least n frames arrived or timeout passes.
func (s *Server) WaitForCommands(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		got, ch := len(s.received), s.notify
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := s.logger.With(logging.F("remote", conn.RemoteAddr().String()))
	log.Info("client connected")
	defer log.Info("client disconnected")

	if s.cfg.Header {
		hdr := rtltcp.EncodeHeader(rtltcp.DongleInfo{Tuner: s.cfg.Tuner, GainCount: 29})
		if _, err := conn.Write(hdr[:]); err != nil {
			return
		}
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readCommands(conn, log)
	}()

	sent := 0
	for {
		select {
		case <-readerDone:
			return
		default:
		}

		block := rtltcp.InterleaveU8(s.source.Next(s.cfg.BlockSize))
		if s.cfg.StreamLimit > 0 {
			if sent >= s.cfg.StreamLimit {
				log.Debug("stream limit reached, idling")
				<-readerDone
				return
			}
			if room := s.cfg.StreamLimit - sent; len(block) > room {
				block = block[:room]
			}
		}
		start := time.Now()
		if _, err := conn.Write(block); err != nil {
			return
		}
		sent += len(block)

		s.mu.Lock()
		rate := float64(s.tuning.SampleRate)
		s.mu.Unlock()
		if s.cfg.Realtime && rate > 0 {
			period := time.Duration(float64(len(block)/2) / rate * float64(time.Second))
			if wait := period - time.Since(start); wait > 0 {
				select {
				case <-time.After(wait):
				case <-readerDone:
					return
				}
			}
		}
	}
}

func (s *Server) readCommands(conn net.Conn, log logging.Logger) {
	frame := make([]byte, rtltcp.FrameSize)
	for {
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		cmd, value, err := rtltcp.DecodeCommand(frame)
		if err != nil {
			log.Warn("bad command frame", logging.F("err", err))
			continue
		}
		log.Debug("command", logging.F("cmd", cmd.String()), logging.F("value", value))
		s.apply(cmd, value)
	}
}

func (s *Server) apply(cmd rtltcp.Command, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case rtltcp.CmdSetFrequency:
		s.tuning.Frequency = rf.Hz(value)
	case rtltcp.CmdSetSampleRate:
		s.tuning.SampleRate = rf.Hz(value)
		s.source.SetSampleRate(float64(value))
	case rtltcp.CmdSetGainMode:
		s.tuning.Manual = value == 1
	case rtltcp.CmdSetGain:
		s.tuning.GainTenths = int(value)
	case rtltcp.CmdSetFreqCorrection:
		s.tuning.PPM = int(value)
	}
	s.received = append(s.received, Received{Cmd: cmd, Value: value, At: time.Now()})
	close(s.notify)
	s.notify = make(chan struct{})
}
