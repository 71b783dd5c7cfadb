package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"pancount/internal/config"
)

// Peer is an edge device found on the local network.
type Peer struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Addrs    []string          `json:"addrs"`
	Port     int               `json:"port"`
	Text     map[string]string `json:"text,omitempty"`
}

// Advertiser publishes the edge API over mDNS.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
	logger *slog.Logger
}

func NewAdvertiser(logger *slog.Logger) *Advertiser {
	return &Advertiser{logger: logger}
}

// Start registers the service. Calling it twice is a no-op.
func (a *Advertiser) Start(cfg config.DiscoveryConfig, deviceID string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	instance := cfg.Instance
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("%s-%s", host, deviceID)
	}
	server, err := zeroconf.Register(instance, cfg.Service, cfg.Domain, port, TXT(deviceID), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	if a.logger != nil {
		a.logger.Info("mdns service registered", "instance", instance, "service", cfg.Service, "port", port)
	}
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// TXT builds the metadata records attached to the service.
func TXT(deviceID string) []string {
	return []string{"device_id=" + deviceID, "version=1"}
}

// ParseTXT turns key=value records into a map; bare keys map to "".
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	p := Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Text:     ParseTXT(e.Text),
	}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	return p
}

// Address picks the first IPv4 address, falling back to the host name.
func (p Peer) Address() string {
	host := strings.TrimSuffix(p.Host, ".")
	for _, a := range p.Addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			host = a
			break
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(p.Port))
}

// Browse collects peers until timeout or ctx is done.
func Browse(ctx context.Context, cfg config.DiscoveryConfig) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}
	timeout := cfg.BrowseTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for e := range entries {
			if seen[e.Instance] {
				continue
			}
			seen[e.Instance] = true
			peers = append(peers, peerFromEntry(e))
		}
	}()
	if err := resolver.Browse(ctx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mdns: %w", err)
	}
	<-ctx.Done()
	<-done
	return peers, nil
}
