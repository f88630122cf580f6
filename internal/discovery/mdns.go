package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/logging"
)

const (
	// ServiceType is the mDNS service miners advertise their web UI under
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port
	DefaultPort = 80
)

// hostnamePattern matches hostnames set by common miner firmware, e.g.
// "antminer-s19.local", "luxos-0a1b2c.local", "Whatsminer-M30.local".
var hostnamePattern = regexp.MustCompile(`(?i)^(antminer|luxos|luxminer|braiins|bos|whatsminer|avalon|vnish)[-_.a-z0-9]*\.local\.?$`)

// Scanner handles mDNS device discovery.
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration

	// ServiceType overrides the browsed service
	ServiceType string

	// IncludeAll keeps every HTTP service, not only known miner hostnames.
	IncludeAll bool
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:     DefaultScanTimeout,
		ServiceType: ServiceType,
	}
}

// Scan browses for miners until the timeout or ctx ends. Devices are
// deduplicated by address and sorted by IP.
func (s *Scanner) Scan(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu    sync.Mutex
		found = make(map[string]*Device)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			device := s.parseServiceEntry(entry)
			if device == nil {
				continue
			}
			key := fmt.Sprintf("%s:%d", device.IP, device.Port)
			mu.Lock()
			if _, ok := found[key]; !ok {
				logging.Debug("Miner discovered",
					zap.String("host", device.Hostname),
					zap.String("ip", device.IP))
				found[key] = device
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, s.serviceType(), ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	devices := make([]*Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sortDevices(devices)
	return devices, nil
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultScanTimeout
	}
	return s.Timeout
}

func (s *Scanner) serviceType() string {
	if s.ServiceType == "" {
		return ServiceType
	}
	return s.ServiceType
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry does not look like a miner.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	hostname := entry.HostName
	if hostname == "" {
		return nil
	}

	family := "unknown"
	if m := hostnamePattern.FindStringSubmatch(hostname); m != nil {
		family = strings.ToLower(m[1])
	} else if !s.IncludeAll {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &Device{
		Instance:     entry.Instance,
		Hostname:     hostname,
		Family:       family,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

func sortDevices(devices []*Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].IP != devices[j].IP {
			return devices[i].IP < devices[j].IP
		}
		return devices[i].Port < devices[j].Port
	})
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan(ctx context.Context) ([]*Device, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.Scan(ctx)
}
