// Package mdns finds and advertises rtl_tcp servers on the local network.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD service type rtl_tcp servers are published under.
const (
	Service = "_rtl_tcp._tcp"
	Domain  = "local."
)

// Host represents a discovered rtl_tcp server.
type Host struct {
	Instance  string // Advertised name: "rtl_tcp on shack-pi"
	Hostname  string // DNS hostname: "shack-pi.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns the first usable address as host:port, preferring IPv4.
func (h Host) Addr() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return net.JoinHostPort(host, fmt.Sprint(h.Port))
}

// Discover performs a blocking mDNS browse for rtl_tcp services until
// timeout elapses or ctx is done. It returns cleaned and deduplicated hosts.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Host, 1)
	go func() { done <- collect(ctx, entries) }()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	return <-done, nil
}

// collect drains entries until the channel closes or ctx ends.
func collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Host {
	resultMap := make(map[string]Host)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sortedHosts(resultMap)
			}
			if e == nil {
				continue
			}
			h := toHost(e)
			resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
		case <-ctx.Done():
			return sortedHosts(resultMap)
		}
	}
}

func toHost(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

func sortedHosts(m map[string]Host) []Host {
	out := make([]Host, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// Advertise publishes an rtl_tcp service on all interfaces. Call Shutdown on
// the returned server to withdraw it.
func Advertise(instance string, port int, txt []string) (*zeroconf.Server, error) {
	srv, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", Service, err)
	}
	return srv, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
