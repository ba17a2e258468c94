package mdns

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4 ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, Domain)
	e.HostName = host
	e.Port = port
	for _, a := range v4 {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(a))
	}
	return e
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`rtl_tcp\ on\ pi`); got != "rtl_tcp on pi" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestCollectDeduplicates(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry, 4)
	entries <- entry(`b\ radio`, "pi.local.", 1234, "192.168.1.20")
	entries <- nil
	entries <- entry(`b\ radio`, "pi.local.", 1234, "192.168.1.20")
	entries <- entry("a radio", "shack.local.", 1235)
	close(entries)

	hosts := collect(context.Background(), entries)
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
	if hosts[0].Instance != "a radio" || hosts[1].Instance != "b radio" {
		t.Fatalf("unexpected order %+v", hosts)
	}
}

func TestCollectStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if hosts := collect(ctx, make(chan *zeroconf.ServiceEntry)); len(hosts) != 0 {
		t.Fatalf("expected no hosts")
	}
}

func TestHostAddr(t *testing.T) {
	h := Host{Hostname: "pi.local.", Port: 1234, Addresses: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.5")}}
	if got := h.Addr(); got != "10.0.0.5:1234" {
		t.Fatalf("expected IPv4 address, got %s", got)
	}
	h.Addresses = nil
	if got := h.Addr(); got != "pi.local:1234" {
		t.Fatalf("expected hostname fallback, got %s", got)
	}
}
