package rtltcp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// blindConn hides the deadline support of the wrapped conn, like an SSH
// channel does.
type blindConn struct{ net.Conn }

func (blindConn) SetDeadline(time.Time) error      { return nil }
func (blindConn) SetReadDeadline(time.Time) error  { return nil }
func (blindConn) SetWriteDeadline(time.Time) error { return nil }

func TestDeadlineConnTimesOutThenDelivers(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()
	conn := DeadlineConn(blindConn{near})
	defer conn.Close()

	buf := make([]byte, 4)
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	start := time.Now()
	_, err := conn.Read(buf)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("read deadline was not honoured")
	}

	go func() { _, _ = far.Write([]byte{1, 2, 3, 4}) }()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil || n == 0 || buf[0] != 1 {
		t.Fatalf("expected data after timeout, got n=%d err=%v buf=%v", n, err, buf)
	}

	done := make(chan []byte, 1)
	go func() {
		got := make([]byte, 2)
		_, _ = far.Read(got)
		done <- got
	}()
	if _, err := conn.Write([]byte{9, 8}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-done:
		if got[0] != 9 || got[1] != 8 {
			t.Fatalf("write not forwarded: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("write not forwarded")
	}
}

func TestDeadlineConnReportsRemoteClose(t *testing.T) {
	near, far := net.Pipe()
	conn := DeadlineConn(blindConn{near})
	defer conn.Close()

	far.Close()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected an error after the remote closed")
	}
}

// startSSHServer runs an SSH server that authenticates "gofm"/"secret" and
// refuses every forwarding request.
func startSSHServer(t *testing.T) (string, int, *int32) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == "gofm" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	var sessions int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer sc.Close()
				atomic.AddInt32(&sessions, 1)
				go ssh.DiscardRequests(reqs)
				for ch := range chans {
					_ = ch.Reject(ssh.Prohibited, "forwarding disabled")
				}
			}()
		}
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port, &sessions
}

func TestSSHDialerDropsSessionAfterTunnelFailure(t *testing.T) {
	host, port, sessions := startSSHServer(t)
	d, err := NewSSHDialer(SSHConfig{Host: host, Port: port, User: "gofm", Password: "secret"})
	if err != nil {
		t.Fatalf("NewSSHDialer: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := d.DialContext(ctx, "tcp", "127.0.0.1:1234"); err == nil {
			t.Fatalf("dial %d: expected the tunnel to be refused", i)
		}
		d.mu.Lock()
		cached := d.client
		d.mu.Unlock()
		if cached != nil {
			t.Fatalf("dial %d: failed session should not stay cached", i)
		}
	}
	if got := atomic.LoadInt32(sessions); got != 2 {
		t.Fatalf("expected a fresh session per dial, got %d", got)
	}
}
