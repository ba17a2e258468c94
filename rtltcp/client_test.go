package rtltcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rjboer/GoFM/internal/logging"
)

func startServer(t *testing.T, handle func(conn net.Conn)) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func newTestClient(host string, port int) *Client {
	return New(host, port, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestConnectAndDisconnectTwice(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	host, port := startServer(t, func(net.Conn) { <-hold })

	c := newTestClient(host, port)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatalf("expected connected")
	}
	c.Disconnect()
	if c.Connected() {
		t.Fatalf("expected disconnected")
	}
	c.Disconnect()
	if c.Connected() {
		t.Fatalf("second disconnect changed state")
	}
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	c := newTestClient("127.0.0.1", addr.Port)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if c.Connected() {
		t.Fatalf("client should stay disconnected")
	}
}

func TestEncodeCommandFrequency(t *testing.T) {
	frame := EncodeCommand(CmdSetFrequency, 100_100_000)
	want := []byte{0x01, 0x05, 0xF7, 0x67, 0xA0}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("byte %d: got 0x%02x want 0x%02x (frame % x)", i, frame[i], want[i], frame)
		}
	}
}

func TestEncodeCommandSignedCorrection(t *testing.T) {
	frame := EncodeCommand(CmdSetFreqCorrection, -42)
	if frame[0] != 0x05 {
		t.Fatalf("unexpected opcode 0x%02x", frame[0])
	}
	if got := int32(binary.BigEndian.Uint32(frame[1:])); got != -42 {
		t.Fatalf("expected -42, got %d", got)
	}
	cmd, value, err := DecodeCommand(frame[:])
	if err != nil || cmd != CmdSetFreqCorrection || value != -42 {
		t.Fatalf("round trip mismatch: %v %d %v", cmd, value, err)
	}
}

func TestConvertU8Extremes(t *testing.T) {
	s := ConvertU8([]byte{0, 255, 128, 127})
	if len(s) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(s))
	}
	const eps = 1e-6
	if math.Abs(float64(real(s[0]))+1) > eps {
		t.Fatalf("byte 0 should map to -1, got %v", real(s[0]))
	}
	if math.Abs(float64(imag(s[0]))-1) > eps {
		t.Fatalf("byte 255 should map to +1, got %v", imag(s[0]))
	}
	if math.Abs(float64(real(s[1]))-0.00392157) > 1e-5 {
		t.Fatalf("byte 128 should map to ~0.00392, got %v", real(s[1]))
	}
}

func TestSendCommandWritesFrames(t *testing.T) {
	frames := make(chan []byte, 8)
	host, port := startServer(t, func(conn net.Conn) {
		for {
			buf := make([]byte, FrameSize)
			if _, err := io.ReadFull(conn, buf); err != nil {
				close(frames)
				return
			}
			frames <- buf
		}
	})

	c := newTestClient(host, port)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if !c.SetFrequency(96_500_000) {
		t.Fatalf("SetFrequency failed")
	}
	if !c.SetFreqCorrection(-3) {
		t.Fatalf("SetFreqCorrection failed")
	}

	first := <-frames
	if cmd, v, _ := DecodeCommand(first); cmd != CmdSetFrequency || v != 96_500_000 {
		t.Fatalf("unexpected first frame % x", first)
	}
	second := <-frames
	if cmd, v, _ := DecodeCommand(second); cmd != CmdSetFreqCorrection || v != -3 {
		t.Fatalf("unexpected second frame % x", second)
	}
}

func TestSendCommandWhenDisconnected(t *testing.T) {
	c := newTestClient("127.0.0.1", 1)
	if c.SendCommand(CmdSetFrequency, 1) {
		t.Fatalf("expected send to fail while disconnected")
	}
}

func TestSetGainRejectedWhileAGC(t *testing.T) {
	got := make(chan Command, 4)
	host, port := startServer(t, func(conn net.Conn) {
		buf := make([]byte, FrameSize)
		for {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			got <- Command(buf[0])
		}
	})

	c := newTestClient(host, port)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if !c.EnableAGC() {
		t.Fatalf("EnableAGC failed")
	}
	if c.SetGain(20) {
		t.Fatalf("SetGain should be rejected while AGC is on")
	}
	if !c.DisableAGC() || !c.SetGain(20) {
		t.Fatalf("manual gain should be accepted after disabling AGC")
	}

	want := []Command{CmdSetGainMode, CmdSetGainMode, CmdSetGain}
	for i, w := range want {
		select {
		case cmd := <-got:
			if cmd != w {
				t.Fatalf("frame %d: got %v want %v", i, cmd, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	if c.Gain() != 20 {
		t.Fatalf("expected gain 20, got %v", c.Gain())
	}
}

func TestReadSamplesConsumesHeader(t *testing.T) {
	host, port := startServer(t, func(conn net.Conn) {
		hdr := EncodeHeader(DongleInfo{Tuner: TunerR820T, GainCount: 29})
		_, _ = conn.Write(hdr[:])
		_, _ = conn.Write([]byte{255, 0, 0, 255})
		time.Sleep(100 * time.Millisecond)
	})

	c := newTestClient(host, port)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	s := c.ReadSamples(2)
	if len(s) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(s))
	}
	if real(s[0]) < 0.99 || imag(s[0]) > -0.99 {
		t.Fatalf("header leaked into samples: %v", s)
	}
	info, ok := c.Info()
	if !ok || info.Tuner != TunerR820T || info.GainCount != 29 {
		t.Fatalf("unexpected dongle info %+v (ok=%v)", info, ok)
	}
}

func TestReadSamplesShortReadReturnsNil(t *testing.T) {
	host, port := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte{1, 2, 3})
	})

	c := newTestClient(host, port)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if s := c.ReadSamples(4); s != nil {
		t.Fatalf("expected nil on short read, got %v", s)
	}
}

func TestReadSamplesKeepsAlignmentAcrossTimeouts(t *testing.T) {
	release := make(chan struct{})
	host, port := startServer(t, func(conn net.Conn) {
		hdr := EncodeHeader(DongleInfo{Tuner: TunerE4000})
		_, _ = conn.Write(hdr[:])
		_, _ = conn.Write([]byte{0, 255, 0})
		<-release
		_, _ = conn.Write([]byte{255})
		time.Sleep(100 * time.Millisecond)
	})

	c := newTestClient(host, port)
	c.ReadTimeout = 50 * time.Millisecond
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if s := c.ReadSamples(2); s != nil {
		t.Fatalf("expected nil while the block is incomplete, got %v", s)
	}
	close(release)

	var s []complex64
	deadline := time.Now().Add(2 * time.Second)
	for s == nil && time.Now().Before(deadline) {
		s = c.ReadSamples(2)
	}
	if len(s) != 2 {
		t.Fatalf("expected a full block after the server resumed")
	}
	for i, v := range s {
		if real(v) > -0.99 || imag(v) < 0.99 {
			t.Fatalf("sample %d misaligned: %v", i, v)
		}
	}
}

func TestReadSamplesWhenDisconnected(t *testing.T) {
	c := newTestClient("127.0.0.1", 1)
	if s := c.ReadSamples(16); s != nil {
		t.Fatalf("expected nil when disconnected")
	}
}

func TestNewSSHDialerValidation(t *testing.T) {
	if _, err := NewSSHDialer(SSHConfig{}); err == nil {
		t.Fatalf("expected error without host")
	}
	if _, err := NewSSHDialer(SSHConfig{Host: "bastion"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	d, err := NewSSHDialer(SSHConfig{Host: "bastion", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.cfg.User != "root" || d.cfg.Port != 22 {
		t.Fatalf("defaults not applied: %+v", d.cfg)
	}
}

func TestConvertU8MatchesOffsetScale(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i / 2)
	}
	s := ConvertU8(buf)
	if len(s) != 256 {
		t.Fatalf("expected 256 samples, got %d", len(s))
	}
	for b, v := range s {
		want := (float64(b) - 127.5) / 127.5
		if math.Abs(float64(real(v))-want) > 1e-6 || math.Abs(float64(imag(v))-want) > 1e-6 {
			t.Fatalf("byte %d: got %v want %v", b, v, want)
		}
	}
	if s := ConvertU8([]byte{7}); len(s) != 0 {
		t.Fatalf("odd trailing byte should be dropped, got %v", s)
	}
}

func TestInterleaveU8Clips(t *testing.T) {
	out := InterleaveU8([]complex64{complex(2, -2), complex(1, -1)})
	want := []byte{255, 0, 255, 0}
	if len(out) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d (%v)", i, out[i], want[i], out)
		}
	}
	if out := InterleaveU8(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestEncodeCommandMatchesRequestLayout(t *testing.T) {
	// rtl_tcp frames are a packed big-endian {uint8 command, uint32 argument}.
	type request struct {
		Command  uint8
		Argument uint32
	}
	cases := []struct {
		cmd   Command
		value int64
	}{
		{CmdSetFrequency, 100_100_000},
		{CmdSetSampleRate, 1_024_000},
		{CmdSetGainMode, 1},
		{CmdSetGain, 496},
		{CmdSetFreqCorrection, -17},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		req := request{Command: uint8(tc.cmd), Argument: uint32(int32(tc.value))}
		if err := binary.Write(&buf, binary.BigEndian, req); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
		frame := EncodeCommand(tc.cmd, tc.value)
		if !bytes.Equal(frame[:], buf.Bytes()) {
			t.Fatalf("command 0x%02x: got % x want % x", uint8(tc.cmd), frame, buf.Bytes())
		}
	}

	var hdr struct {
		Magic     [4]byte
		TunerType uint32
		GainCount uint32
	}
	enc := EncodeHeader(DongleInfo{Tuner: TunerR820T, GainCount: 29})
	if err := binary.Read(bytes.NewReader(enc[:]), binary.BigEndian, &hdr); err != nil {
		t.Fatalf("binary.Read: %v", err)
	}
	if string(hdr.Magic[:]) != "RTL0" || TunerType(hdr.TunerType) != TunerR820T || hdr.GainCount != 29 {
		t.Fatalf("unexpected header layout %+v", hdr)
	}
}

func TestReadSamplesSplitHeader(t *testing.T) {
	host, port := startServer(t, func(conn net.Conn) {
		hdr := EncodeHeader(DongleInfo{Tuner: TunerFC0013, GainCount: 23})
		_, _ = conn.Write(hdr[:6])
		time.Sleep(150 * time.Millisecond)
		_, _ = conn.Write(hdr[6:])
		_, _ = conn.Write([]byte{255, 0, 255, 0})
		time.Sleep(100 * time.Millisecond)
	})

	c := newTestClient(host, port)
	c.ReadTimeout = 50 * time.Millisecond
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	var s []complex64
	deadline := time.Now().Add(2 * time.Second)
	for s == nil && time.Now().Before(deadline) {
		s = c.ReadSamples(2)
	}
	if len(s) != 2 {
		t.Fatalf("expected a full block once the header completed")
	}
	for i, v := range s {
		if real(v) < 0.99 || imag(v) > -0.99 {
			t.Fatalf("sample %d misaligned: %v", i, v)
		}
	}
	info, ok := c.Info()
	if !ok || info.Tuner != TunerFC0013 || info.GainCount != 23 {
		t.Fatalf("unexpected dongle info %+v (ok=%v)", info, ok)
	}
}
