package rtltcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes a bastion used to reach an rtl_tcp server that only
// listens on a remote loopback or private network.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
}

// SSHDialer tunnels rtl_tcp connections through an SSH client. The SSH session
// is opened lazily and reused by subsequent dials.
type SSHDialer struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHDialer validates the configuration and fills defaults.
func NewSSHDialer(cfg SSHConfig) (*SSHDialer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for tunnelling")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Password == "" && cfg.KeyPath == "" {
		return nil, fmt.Errorf("no ssh password or key configured")
	}
	return &SSHDialer{cfg: cfg}, nil
}

// DialContext opens a direct-tcpip channel to address from the SSH host.
func (d *SSHDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := client.Dial(network, address)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			d.drop(client)
			return nil, fmt.Errorf("tunnel to %s: %w", address, res.err)
		}
		return DeadlineConn(res.conn), nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close tears down the SSH session.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// drop forgets client if it is still the cached session, so the next dial
// opens a fresh one.
func (d *SSHDialer) drop(client *ssh.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if client == nil || d.client != client {
		return
	}
	_ = d.client.Close()
	d.client = nil
}

func (d *SSHDialer) dial(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	auth := []ssh.AuthMethod{}
	if d.cfg.Password != "" {
		auth = append(auth, ssh.Password(d.cfg.Password))
	}
	if d.cfg.KeyPath != "" {
		key, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	config := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DefaultConnectTimeout,
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	d.client = ssh.NewClient(clientConn, chans, reqs)
	return d.client, nil
}

// DeadlineConn gives read deadlines to a stream that lacks them, such as an
// SSH channel. A pump goroutine copies the stream into one end of a net.Pipe
// and reads are served from the other end. Writes go straight to conn and
// write deadlines are ignored.
func DeadlineConn(conn net.Conn) net.Conn {
	local, pump := net.Pipe()
	go func() {
		_, _ = io.Copy(pump, conn)
		_ = pump.Close()
	}()
	return &tunnelConn{Conn: local, remote: conn}
}

type tunnelConn struct {
	net.Conn // pipe end carrying the remote's bytes
	remote   net.Conn
}

func (t *tunnelConn) Write(p []byte) (int, error) { return t.remote.Write(p) }

func (t *tunnelConn) Close() error {
	err := t.remote.Close()
	_ = t.Conn.Close()
	return err
}

func (t *tunnelConn) LocalAddr() net.Addr  { return t.remote.LocalAddr() }
func (t *tunnelConn) RemoteAddr() net.Addr { return t.remote.RemoteAddr() }

func (t *tunnelConn) SetDeadline(d time.Time) error    { return t.Conn.SetReadDeadline(d) }
func (t *tunnelConn) SetWriteDeadline(time.Time) error { return nil }
