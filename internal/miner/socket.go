package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds the TCP dial
	DefaultConnectTimeout = 3 * time.Second

	// DefaultReadTimeout bounds the write plus the read of one reply
	DefaultReadTimeout = 10 * time.Second
)

// Transport issues a single command over one protocol.
type Transport interface {
	// Send issues cmd and returns the decoded reply. A reply the device
	// marks as an error is returned as a CommandRejected DeviceError.
	Send(ctx context.Context, cmd, param string) (*protocol.Response, error)

	// Probe checks that the protocol answers at all.
	Probe(ctx context.Context) error

	// Close releases any session state. It is safe to call more than once.
	Close(ctx context.Context) error

	Protocol() Protocol
}

// SocketClient talks to the CGMiner-compatible TCP API. Every command opens
// a fresh connection; no authentication is involved.
type SocketClient struct {
	// Host is the miner's address
	Host string

	// Port is the API port (default 4028)
	Port int

	// ConnectTimeout bounds the dial
	ConnectTimeout time.Duration

	// ReadTimeout bounds writing the request and reading the reply
	ReadTimeout time.Duration

	dialer net.Dialer
	// dial replaces dialer.DialContext when set
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ Transport = (*SocketClient)(nil)

// NewSocketClient creates a socket client with default timeouts
func NewSocketClient(host string, port int) *SocketClient {
	if port == 0 {
		port = protocol.DefaultPort
	}
	return &SocketClient{
		Host:           host,
		Port:           port,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}
}

// Protocol implements Transport
func (c *SocketClient) Protocol() Protocol { return ProtocolSocket }

func (c *SocketClient) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Send implements Transport
func (c *SocketClient) Send(ctx context.Context, cmd, param string) (*protocol.Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, cmd, param)
	logging.LogCommand(c.Host, ProtocolSocket.String(), cmd, time.Since(start), err)
	return resp, err
}

func (c *SocketClient) send(ctx context.Context, cmd, param string) (*protocol.Response, error) {
	frame, err := protocol.EncodeRequest(protocol.Request{Command: cmd, Parameter: param})
	if err != nil {
		return nil, NewValidationError(err.Error())
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	logging.LogConnection(c.addr(), "dial")
	dial := c.dialer.DialContext
	if c.dial != nil {
		dial = c.dial
	}
	conn, err := dial(dialCtx, "tcp", c.addr())
	if err != nil {
		return nil, c.wrap(cmd, ClassifyNetworkError(err, c.Host))
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, c.wrap(cmd, ClassifyNetworkError(err, c.Host))
	}

	if _, err := conn.Write(frame); err != nil {
		return nil, c.wrap(cmd, ClassifyNetworkError(err, c.Host))
	}

	raw, err := protocol.ReadResponse(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrResponseTooLarge) {
			return nil, c.wrap(cmd, NewMalformedError("reply too large", err))
		}
		return nil, c.wrap(cmd, ClassifyNetworkError(err, c.Host))
	}
	logging.LogRawBytes(cmd+" reply", raw)

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		logging.Debug("Undecodable socket reply",
			zap.String("device", c.Host),
			zap.String("command", cmd),
			zap.Int("bytes", len(raw)))
		return nil, c.wrap(cmd, NewMalformedError("reply is not a JSON object", err))
	}

	if reason := resp.Rejection(); reason != "" {
		return resp, c.wrap(cmd, NewRejectedError(cmd, reason))
	}
	return resp, nil
}

func (c *SocketClient) wrap(cmd string, devErr *DeviceError) *DeviceError {
	devErr.Command = cmd
	devErr.Protocol = ProtocolSocket
	devErr.DeviceHost = c.Host
	return devErr
}

// Probe issues a summary query
func (c *SocketClient) Probe(ctx context.Context) error {
	_, err := c.Send(ctx, "summary", "")
	if err != nil {
		return fmt.Errorf("socket probe on %s: %w", c.addr(), err)
	}
	return nil
}

// Close implements Transport. Socket connections never outlive a command.
func (c *SocketClient) Close(context.Context) error { return nil }
