// Package miner provides a protocol-agnostic client for ASIC miners.
//
// Miners run heterogeneous firmware. Some answer the CGMiner-compatible TCP
// API on port 4028, some only expose a session-authenticated HTTP API, and
// some do both. DeviceClient hides the difference: on first use it probes the
// socket API, then the HTTP API, caches whichever answered and falls back to
// the other one when the cached protocol stops answering.
//
// # Transports
//
//   - SocketClient: one fresh TCP connection per command, NUL-terminated reply
//   - SessionClient: logon with ordered credential candidates and API path
//     candidates, one re-logon when the device drops the session
//
// # Usage Example
//
//	ep := miner.NewEndpoint("garage-s21", "192.168.1.40")
//	client := miner.NewDeviceClient(ep)
//	defer client.Close(context.Background())
//
//	status, err := client.GetStatus(ctx)
//	if err != nil {
//	    fmt.Println(miner.GetShortErrorMessage(err))
//	    return
//	}
//	fmt.Printf("%.1f TH/s at %.0f W\n", status.Hashrate.FiveSec, status.PowerW)
//
//	// Idempotent: nothing is sent when board 2 is already disabled
//	issued, err := client.SetBoardEnabled(ctx, 2, false)
//
// # Error Handling
//
// Every failure is a *DeviceError whose Type follows a fixed taxonomy.
// Connection and Timeout errors are connection-class and trigger protocol
// fallback. Auth, Malformed and CommandRejected errors are returned to the
// caller unchanged.
package miner
