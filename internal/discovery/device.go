package discovery

import (
	"fmt"
	"strings"
	"time"
)

// Device is a miner found on the local network.
type Device struct {
	// Instance is the advertised service instance name
	Instance string

	// Hostname is the mDNS hostname (e.g., "antminer-s19.local.")
	Hostname string

	// Family is the firmware family guessed from the hostname (e.g., "antminer", "luxos")
	Family string

	// IP is the address to configure, IPv4 when one is advertised
	IP string

	// Port is the advertised HTTP port (typically 80)
	Port int

	// Metadata holds the TXT record key/value pairs
	Metadata map[string]string

	DiscoveredAt time.Time
}

func (d *Device) String() string {
	return fmt.Sprintf("%s miner %s at %s:%d", d.Family, d.ShortName(), d.IP, d.Port)
}

// ShortName is the hostname without the .local suffix.
func (d *Device) ShortName() string {
	name := strings.TrimSuffix(strings.TrimSuffix(d.Hostname, "."), ".local")
	if name == "" {
		return d.IP
	}
	return name
}

// SuggestedID derives a config device id from the hostname.
func (d *Device) SuggestedID() string {
	return strings.ToLower(d.ShortName())
}

// BaseURL returns the HTTP base URL for the device.
func (d *Device) BaseURL() string {
	if d.Port == 0 || d.Port == DefaultPort {
		return "http://" + d.IP
	}
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}
