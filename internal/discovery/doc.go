// Package discovery finds miners on the local network over mDNS.
//
// Most miner firmware advertises its web interface as an "_http._tcp"
// service under a recognizable hostname (antminer-*, luxos-*, whatsminer-*
// and so on). The scanner browses that service type and keeps entries whose
// hostname matches a known firmware family. Set IncludeAll to keep every
// HTTP service instead.
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	scanner.Timeout = 5 * time.Second
//	devices, err := scanner.Scan(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range devices {
//	    fmt.Println(d)
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Devices must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
