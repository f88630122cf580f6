package miner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/protocol"
)

const (
	// DefaultReprobeInterval is how long a failed detection is trusted before
	// the next call probes again
	DefaultReprobeInterval = 10 * time.Second

	// MaxFrequencyMHz bounds frequencyset
	MaxFrequencyMHz = 2000

	// MaxCurtailWatts bounds the power target
	MaxCurtailWatts = 50000
)

// optionalStatusCommands are queried after summary. Their failure is recorded
// in DeviceStatus.Errors unless it is connection-class.
var optionalStatusCommands = []string{"stats", "devs", "pools", "profileget", "frequencyget"}

// DeviceClient is the protocol-agnostic client for one miner. It detects
// whether the miner speaks the socket or the HTTP API, caches the answer and
// falls back to the other protocol once when the cached one stops answering.
//
// All methods are serialized per client.
type DeviceClient struct {
	// Endpoint is the miner this client talks to
	Endpoint DeviceEndpoint

	// Socket and HTTP are the two transports
	Socket Transport
	HTTP   Transport

	// ReprobeInterval makes calls fail fast after a failed detection
	ReprobeInterval time.Duration

	mu            sync.Mutex
	choice        Protocol
	probeFailedAt time.Time
	probeErr      error
	last          *DeviceStatus
	now           func() time.Time
}

// NewDeviceClient creates a facade over a socket and an HTTP session client
func NewDeviceClient(ep DeviceEndpoint) *DeviceClient {
	ep = ep.withDefaults()
	return NewDeviceClientWithTransports(ep, NewSocketClient(ep.Host, ep.SocketPort), NewSessionClient(ep))
}

// NewDeviceClientWithTransports creates a facade over the given transports
func NewDeviceClientWithTransports(ep DeviceEndpoint, socket, http Transport) *DeviceClient {
	return &DeviceClient{
		Endpoint:        ep,
		Socket:          socket,
		HTTP:            http,
		ReprobeInterval: DefaultReprobeInterval,
		now:             time.Now,
	}
}

// SetTimeouts adjusts the connect and read timeouts of the built-in transports
func (c *DeviceClient) SetTimeouts(connect, read time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.Socket.(*SocketClient); ok {
		if connect > 0 {
			s.ConnectTimeout = connect
		}
		if read > 0 {
			s.ReadTimeout = read
		}
	}
	if h, ok := c.HTTP.(*SessionClient); ok {
		if connect > 0 {
			h.ConnectTimeout = connect
		}
		if connect+read > 0 {
			h.SetTimeout(connect + read)
		}
	}
}

// ID returns the endpoint id
func (c *DeviceClient) ID() string { return c.Endpoint.ID }

// Protocol returns the cached protocol choice
func (c *DeviceClient) Protocol() Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.choice
}

// LastStatus returns the last successfully assembled status marked stale,
// or nil when none was fetched yet.
func (c *DeviceClient) LastStatus() *DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	s := c.last.Clone()
	s.Stale = true
	return s
}

func (c *DeviceClient) transport(p Protocol) Transport {
	if p == ProtocolHTTP {
		return c.HTTP
	}
	return c.Socket
}

func other(p Protocol) Protocol {
	if p == ProtocolHTTP {
		return ProtocolSocket
	}
	return ProtocolHTTP
}

func (c *DeviceClient) setChoice(p Protocol, reason string) {
	if c.choice == p {
		return
	}
	logging.LogProtocolChange(c.Endpoint.ID, c.choice.String(), p.String(), reason)
	c.choice = p
}

// detect probes the socket API, then the HTTP API.
func (c *DeviceClient) detect(ctx context.Context) error {
	if !c.probeFailedAt.IsZero() && c.now().Sub(c.probeFailedAt) < c.ReprobeInterval {
		return c.probeErr
	}

	sockErr := c.Socket.Probe(ctx)
	if sockErr == nil {
		c.probeFailedAt = time.Time{}
		c.setChoice(ProtocolSocket, "socket probe succeeded")
		return nil
	}
	logging.Debug("Socket probe failed", zap.String("device", c.Endpoint.ID), zap.Error(sockErr))

	httpErr := c.HTTP.Probe(ctx)
	if httpErr == nil {
		c.probeFailedAt = time.Time{}
		c.setChoice(ProtocolHTTP, "HTTP logon succeeded")
		return nil
	}
	logging.Debug("HTTP probe failed", zap.String("device", c.Endpoint.ID), zap.Error(httpErr))

	c.probeFailedAt = c.now()
	if IsAuthError(httpErr) {
		// The HTTP API is there, the credentials are wrong
		c.probeErr = httpErr
	} else {
		c.probeErr = NewProtocolUnavailableError(c.Endpoint.Host, errors.Join(sockErr, httpErr))
	}
	return c.probeErr
}

// do issues one command on the cached protocol, with one fallback to the
// other protocol on a connection-class failure.
func (c *DeviceClient) do(ctx context.Context, cmd, param string) (*protocol.Response, error) {
	if c.choice == ProtocolUnknown {
		if err := c.detect(ctx); err != nil {
			return nil, err
		}
	}

	primary := c.choice
	resp, err := c.transport(primary).Send(ctx, cmd, param)
	if err == nil || !IsConnectionClass(err) {
		return resp, err
	}

	fallback := other(primary)
	logging.Warn("Command failed, trying other protocol",
		zap.String("device", c.Endpoint.ID),
		zap.String("command", cmd),
		zap.Stringer("from", primary),
		zap.Stringer("to", fallback),
		zap.Error(err))

	resp, fbErr := c.transport(fallback).Send(ctx, cmd, param)
	switch {
	case fbErr == nil:
		c.setChoice(fallback, "fallback after connection failure")
		return resp, nil
	case IsConnectionClass(fbErr):
		c.setChoice(ProtocolUnknown, "both protocols unreachable")
		return nil, fmt.Errorf("%w; %s fallback: %w", err, fallback, fbErr)
	case IsRejected(fbErr):
		// The device answered on the fallback protocol
		c.setChoice(fallback, "fallback protocol answered")
		return resp, fbErr
	default:
		return nil, fbErr
	}
}

// GetStatus assembles a DeviceStatus. summary is mandatory; the other
// queries are best effort.
func (c *DeviceClient) GetStatus(ctx context.Context) (*DeviceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.do(ctx, "summary", "")
	if err != nil {
		return nil, err
	}
	sum, err := protocol.ParseSummary(resp)
	if err != nil {
		return nil, c.malformed("summary", err)
	}

	status := &DeviceStatus{
		DeviceID:  c.Endpoint.ID,
		FetchedAt: c.now(),
	}
	status.applySummary(sum)

	for _, cmd := range optionalStatusCommands {
		resp, err := c.do(ctx, cmd, "")
		if err == nil {
			err = c.applySection(status, cmd, resp)
		}
		if err == nil {
			continue
		}
		if IsConnectionClass(err) || IsProtocolUnavailable(err) {
			return nil, err
		}
		if status.Errors == nil {
			status.Errors = make(map[string]string)
		}
		status.Errors[cmd] = GetShortErrorMessage(err)
	}

	status.Protocol = c.choice.String()
	status.finish(sum.Status)
	c.last = status
	return status.Clone(), nil
}

func (c *DeviceClient) applySection(status *DeviceStatus, cmd string, resp *protocol.Response) error {
	switch cmd {
	case "stats":
		st, err := protocol.ParseStats(resp)
		if err != nil {
			return c.malformed(cmd, err)
		}
		status.applyStats(st)
	case "devs":
		devs, err := protocol.ParseDevs(resp)
		if err != nil {
			return c.malformed(cmd, err)
		}
		status.applyDevs(devs)
	case "pools":
		pools, err := protocol.ParsePools(resp)
		if err != nil {
			return c.malformed(cmd, err)
		}
		status.applyPools(pools)
	case "profileget":
		raw, err := protocol.ParseProfile(resp)
		if err != nil {
			return c.malformed(cmd, err)
		}
		p, err := ParseProfile(raw)
		if err != nil {
			return c.malformed(cmd, err)
		}
		status.Profile = p
		status.ProfileKnown = true
	case "frequencyget":
		f, err := protocol.ParseFrequency(resp)
		if err != nil {
			return c.malformed(cmd, err)
		}
		status.FrequencyMHz = f
	}
	return nil
}

func (c *DeviceClient) malformed(cmd string, err error) error {
	devErr := NewMalformedError("unexpected "+cmd+" reply", err)
	devErr.Command = cmd
	devErr.Protocol = c.choice
	devErr.DeviceHost = c.Endpoint.Host
	return devErr
}

// SetPowerProfile issues profileset
func (c *DeviceClient) SetPowerProfile(ctx context.Context, p PowerProfile) error {
	if p.Offset() < MinOffset || p.Offset() > MaxOffset {
		return NewValidationError(fmt.Sprintf("power profile offset %d out of range [%d, %d]", p.Offset(), MinOffset, MaxOffset))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.do(ctx, "profileset", p.Encode()); err != nil {
		return err
	}
	if c.last != nil {
		c.last.Profile = p
		c.last.ProfileKnown = true
	}
	return nil
}

// SetBoardEnabled enables or disables one hashboard. A board already in the
// requested state is a no-op: nothing is sent and issued is false.
func (c *DeviceClient) SetBoardEnabled(ctx context.Context, boardID int, enabled bool) (issued bool, err error) {
	if boardID < 0 {
		return false, NewValidationError(fmt.Sprintf("invalid board id %d", boardID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil {
		if b, ok := c.last.Board(boardID); ok && b.Enabled == enabled {
			return false, nil
		}
	}
	return c.boardCommand(ctx, boardID, enabled)
}

// ForceBoardEnabled sends the board command without consulting the cached
// state. A device that reports the board already in that state is not an
// error.
func (c *DeviceClient) ForceBoardEnabled(ctx context.Context, boardID int, enabled bool) error {
	if boardID < 0 {
		return NewValidationError(fmt.Sprintf("invalid board id %d", boardID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.boardCommand(ctx, boardID, enabled)
	return err
}

func (c *DeviceClient) boardCommand(ctx context.Context, boardID int, enabled bool) (bool, error) {
	cmd := "disableboard"
	if enabled {
		cmd = "enableboard"
	}

	_, err := c.do(ctx, cmd, strconv.Itoa(boardID))
	if err != nil && !alreadyInState(err) {
		return true, err
	}
	if c.last != nil {
		for i := range c.last.Boards {
			if c.last.Boards[i].ID == boardID {
				c.last.Boards[i].Enabled = enabled
			}
		}
	}
	return err == nil, nil
}

func alreadyInState(err error) bool {
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Type != ErrTypeCommandRejected {
		return false
	}
	return strings.Contains(strings.ToLower(devErr.Message), "already")
}

// SetFrequency sets the absolute chip frequency in MHz
func (c *DeviceClient) SetFrequency(ctx context.Context, mhz int) error {
	if mhz <= 0 || mhz > MaxFrequencyMHz {
		return NewValidationError(fmt.Sprintf("frequency %d MHz out of range (1-%d)", mhz, MaxFrequencyMHz))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.do(ctx, "frequencyset", strconv.Itoa(mhz)); err != nil {
		return err
	}
	if c.last != nil {
		c.last.FrequencyMHz = float64(mhz)
	}
	return nil
}

// Curtail sets an absolute power target in watts (the power command)
func (c *DeviceClient) Curtail(ctx context.Context, watts int) error {
	if watts < 0 || watts > MaxCurtailWatts {
		return NewValidationError(fmt.Sprintf("power target %d W out of range (0-%d)", watts, MaxCurtailWatts))
	}
	return c.simple(ctx, "power", strconv.Itoa(watts))
}

// Throttle curtails hashing to a fraction of nominal (the curtail command,
// which takes a percentage)
func (c *DeviceClient) Throttle(ctx context.Context, fraction float64) error {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return NewValidationError(fmt.Sprintf("curtail fraction %v out of range [0, 1]", fraction))
	}
	return c.simple(ctx, "curtail", strconv.Itoa(int(math.Round(fraction*100))))
}

// SetFanSpeed sets the fan speed percentage
func (c *DeviceClient) SetFanSpeed(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return NewValidationError(fmt.Sprintf("fan speed %d%% out of range (0-100)", percent))
	}
	return c.simple(ctx, "fanset", strconv.Itoa(percent))
}

// Pause stops hashing without powering down
func (c *DeviceClient) Pause(ctx context.Context) error { return c.simple(ctx, "pause", "") }

// Resume restarts hashing after Pause
func (c *DeviceClient) Resume(ctx context.Context) error { return c.simple(ctx, "resume", "") }

// Reboot restarts the miner
func (c *DeviceClient) Reboot(ctx context.Context) error { return c.simple(ctx, "reboot", "") }

func (c *DeviceClient) simple(ctx context.Context, cmd, param string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.do(ctx, cmd, param)
	return err
}

// Version queries the firmware version
func (c *DeviceClient) Version(ctx context.Context) (*protocol.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.do(ctx, "version", "")
	if err != nil {
		return nil, err
	}
	v, err := protocol.ParseVersion(resp)
	if err != nil {
		return nil, c.malformed("version", err)
	}
	return v, nil
}

// Close ends any HTTP session
func (c *DeviceClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.Socket.Close(ctx), c.HTTP.Close(ctx))
}
