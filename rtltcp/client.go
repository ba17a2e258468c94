package rtltcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"hz.tools/rf"
	"hz.tools/sdr"

	"github.com/rjboer/GoFM/internal/logging"
)

// ErrNotConnected is returned when an operation needs an open connection.
var ErrNotConnected = errors.New("rtltcp: not connected")

const (
	DefaultPort           = 1234
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = time.Second
	DefaultWriteTimeout   = 5 * time.Second

	// readChunk caps a single socket read.
	readChunk = 65536
)

// ContextDialer opens the underlying stream. *net.Dialer and SSHDialer both
// satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client speaks the rtl_tcp protocol: fixed 5-byte command frames upstream and
// an unframed stream of interleaved u8 I/Q bytes downstream.
//
// Commands may be sent from any goroutine. ReadSamples is meant to be called
// from a single reader goroutine.
type Client struct {
	Host           string
	Port           int
	Dialer         ContextDialer
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	logger logging.Logger

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	connected   bool
	agcEnabled  bool
	currentGain float64

	readMu        sync.Mutex
	pending       sdr.SamplesU8
	raw           []byte // byte view of pending
	fill          int
	headerChecked bool
	info          *DongleInfo
	readFailing   bool
}

// New builds a disconnected client for host:port.
func New(host string, port int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		Host:           host,
		Port:           port,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		logger:         logger.With(logging.Subsystem("rtltcp")),
	}
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SetAddr changes the target used by the next Connect.
func (c *Client) SetAddr(host string, port int) {
	c.mu.Lock()
	c.Host = host
	c.Port = port
	c.mu.Unlock()
}

// Connect opens the stream connection, bounded by ConnectTimeout. A previous
// connection is closed first. Failures leave the client disconnected.
func (c *Client) Connect(ctx context.Context) error {
	addr := c.Addr()
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}

	c.Disconnect()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.logger.Error("connection failed", logging.F("addr", addr), logging.F("error", err))
		return fmt.Errorf("connect to rtl_tcp at %s: %w", addr, err)
	}

	c.readMu.Lock()
	c.fill = 0
	c.headerChecked = false
	c.info = nil
	c.readFailing = false
	c.readMu.Unlock()

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, readChunk)
	c.connected = true
	c.agcEnabled = false
	c.mu.Unlock()

	c.logger.Info("connected to rtl_tcp", logging.F("addr", addr))
	return nil
}

// Connected reports whether a socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the socket. Calling it while disconnected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.reader = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if wasConnected {
		c.logger.Info("disconnected from rtl_tcp")
	}
}

// SendCommand writes one command frame. It reports false, and logs, when the
// client is not connected or the write fails.
func (c *Client) SendCommand(cmd Command, value int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		c.logger.Warn("cannot send command, not connected", logging.F("command", cmd))
		return false
	}
	frame := EncodeCommand(cmd, value)
	if c.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if _, err := c.conn.Write(frame[:]); err != nil {
		c.logger.Error("command failed", logging.F("command", cmd), logging.F("error", err))
		return false
	}
	c.logger.Debug("command sent", logging.F("command", cmd), logging.F("value", value))
	return true
}

// SetFrequency tunes the receiver.
func (c *Client) SetFrequency(freq rf.Hz) bool {
	return c.SendCommand(CmdSetFrequency, int64(freq))
}

// SetSampleRate sets the I/Q sample rate.
func (c *Client) SetSampleRate(rate rf.Hz) bool {
	return c.SendCommand(CmdSetSampleRate, int64(rate))
}

// SetGainMode selects manual gain (true) or hardware AGC (false).
func (c *Client) SetGainMode(manual bool) bool {
	var v int64
	if manual {
		v = 1
	}
	if !c.SendCommand(CmdSetGainMode, v) {
		return false
	}
	c.mu.Lock()
	c.agcEnabled = !manual
	c.mu.Unlock()
	mode := "manual gain"
	if !manual {
		mode = "hardware AGC"
	}
	c.logger.Info("gain mode set", logging.F("mode", mode))
	return true
}

// EnableAGC switches the tuner to hardware AGC.
func (c *Client) EnableAGC() bool { return c.SetGainMode(false) }

// DisableAGC switches the tuner to manual gain.
func (c *Client) DisableAGC() bool { return c.SetGainMode(true) }

// AGCEnabled reports the last gain mode acknowledged by a successful send.
func (c *Client) AGCEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agcEnabled
}

// SetGain sets the manual tuner gain in dB. It is rejected with a warning
// while hardware AGC is enabled.
func (c *Client) SetGain(db float64) bool {
	if c.AGCEnabled() {
		c.logger.Warn("cannot set manual gain while AGC is enabled", logging.F("gain_db", db))
		return false
	}
	if !c.SendCommand(CmdSetGain, int64(math.Round(db*10))) {
		return false
	}
	c.mu.Lock()
	c.currentGain = db
	c.mu.Unlock()
	c.logger.Info("manual gain set", logging.F("gain_db", db))
	return true
}

// Gain returns the last manual gain that was applied.
func (c *Client) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentGain
}

// SetFreqCorrection sets the oscillator correction in ppm.
func (c *Client) SetFreqCorrection(ppm int) bool {
	return c.SendCommand(CmdSetFreqCorrection, int64(ppm))
}

// Info returns the dongle header, once one has been received.
func (c *Client) Info() (DongleInfo, bool) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.info == nil {
		return DongleInfo{}, false
	}
	return *c.info, true
}

// ReadSamples blocks until n complex samples (2n bytes) have arrived and
// returns them converted. It returns nil on a short read, timeout, close or
// error; the caller cannot tell these apart. Bytes received before a timeout
// are kept for the next call so I and Q stay paired.
func (c *Client) ReadSamples(n int) sdr.SamplesC64 {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	conn, r, connected := c.conn, c.reader, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return nil
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if !c.headerChecked {
		if err := c.readHeader(conn, r); err != nil {
			c.noteReadError(err)
			return nil
		}
	}

	if len(c.pending) < n {
		grown := make(sdr.SamplesU8, n)
		raw := sdr.MustUnsafeSamplesAsBytes(grown)
		copy(raw, c.raw[:c.fill])
		c.pending, c.raw = grown, raw
	}
	need := 2 * n

	for c.fill < need {
		c.armReadDeadline(conn)
		end := need
		if end-c.fill > readChunk {
			end = c.fill + readChunk
		}
		k, err := r.Read(c.raw[c.fill:end])
		c.fill += k
		if err != nil {
			c.noteReadError(err)
			return nil
		}
	}
	c.fill = 0
	if c.readFailing {
		c.readFailing = false
		c.logger.Info("sample stream resumed")
	}
	return toC64(c.pending[:n])
}

func (c *Client) armReadDeadline(conn net.Conn) {
	if c.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	}
}

// readHeader consumes the optional dongle header at the start of the stream.
func (c *Client) readHeader(conn net.Conn, r *bufio.Reader) error {
	c.armReadDeadline(conn)
	magic, err := r.Peek(len(headerMagic))
	if err != nil {
		return err
	}
	if string(magic) != headerMagic {
		c.headerChecked = true
		return nil
	}
	// Nothing is consumed until the whole header is buffered, so a timeout
	// here leaves the stream aligned for the next attempt.
	hdr, err := r.Peek(headerSize)
	if err != nil {
		return err
	}
	info := decodeHeader(hdr)
	if _, err := r.Discard(headerSize); err != nil {
		return err
	}
	c.headerChecked = true
	c.info = &info
	c.logger.Info("dongle header received", logging.F("tuner", info.Tuner), logging.F("gain_count", info.GainCount))
	return nil
}

// noteReadError logs the first failure of a run of failed reads.
func (c *Client) noteReadError(err error) {
	if c.readFailing {
		return
	}
	c.readFailing = true
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		c.logger.Debug("sample read timed out", logging.F("buffered", c.fill))
	case errors.Is(err, io.EOF):
		c.logger.Warn("sample stream closed by server")
	default:
		c.logger.Error("read error", logging.F("error", err))
	}
}
