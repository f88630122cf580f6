package miner

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/solminer/internal/protocol"
)

// scriptedTransport answers from a reply table. Setting down makes every
// call fail with connection refused.
type scriptedTransport struct {
	proto Protocol

	mu       sync.Mutex
	down     bool
	probeErr error
	replies  map[string]string
	errs     map[string]error
	probes   int
	sent     []string
	closed   int
}

func newScripted(p Protocol, replies map[string]string) *scriptedTransport {
	return &scriptedTransport{proto: p, replies: replies, errs: map[string]error{}}
}

func (s *scriptedTransport) refused() error {
	return &DeviceError{
		Type:           ErrTypeConnection,
		Message:        "device refused connection",
		Protocol:       s.proto,
		NetworkSubtype: NetworkErrorConnectionRefused,
		Err:            syscall.ECONNREFUSED,
	}
}

func (s *scriptedTransport) Send(_ context.Context, cmd, param string) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd+"|"+param)
	if s.down {
		return nil, s.refused()
	}
	if err, ok := s.errs[cmd]; ok {
		return nil, err
	}
	raw, ok := s.replies[cmd]
	if !ok {
		raw = okReply
	}
	resp, err := protocol.DecodeResponse([]byte(raw))
	if err != nil {
		return nil, NewMalformedError("bad", err)
	}
	if r := resp.Rejection(); r != "" {
		return resp, NewRejectedError(cmd, r)
	}
	return resp, nil
}

func (s *scriptedTransport) Probe(context.Context) error {
	s.mu.Lock()
	s.probes++
	down, probeErr := s.down, s.probeErr
	s.mu.Unlock()
	if down {
		return s.refused()
	}
	if probeErr != nil {
		return probeErr
	}
	return nil
}

func (s *scriptedTransport) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *scriptedTransport) Protocol() Protocol { return s.proto }

func (s *scriptedTransport) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *scriptedTransport) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *scriptedTransport) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

func statusReplies() map[string]string {
	return map[string]string{
		"summary":      summaryReply,
		"stats":        statsReply,
		"devs":         devsReply,
		"pools":        poolsReply,
		"profileget":   `{"profile":"0"}`,
		"frequencyget": `{"frequency":575}`,
	}
}

func newFacade(socket, http *scriptedTransport) *DeviceClient {
	return NewDeviceClientWithTransports(NewEndpoint("s21", "10.0.0.5"), socket, http)
}

func TestDeviceClient_DetectsSocketFirst(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	web := newScripted(ProtocolHTTP, statusReplies())
	c := newFacade(sock, web)

	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ProtocolSocket, c.Protocol())
	assert.Equal(t, 0, web.probeCount())
	assert.Equal(t, "socket", status.Protocol)
	assert.InDelta(t, 110.0, status.Hashrate.FiveSec, 1e-9)
	assert.Equal(t, 3400.0, status.PowerW)
	assert.Len(t, status.Boards, 3)
	assert.Equal(t, 70.0, status.MaxBoardTemp())
	assert.Equal(t, Balanced, status.Profile)
	assert.True(t, status.ProfileKnown)
	assert.Equal(t, 575.0, status.FrequencyMHz)
	assert.Equal(t, "stratum+tcp://pool.example:3333", status.Pool)
	assert.Equal(t, time.Hour, status.Uptime)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Errors)
}

func TestDeviceClient_FallsBackToHTTPOnDetection(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	sock.setDown(true)
	web := newScripted(ProtocolHTTP, statusReplies())
	c := newFacade(sock, web)

	_, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProtocolHTTP, c.Protocol())
	assert.Empty(t, sock.commands())
}

func TestDeviceClient_FallbackCachesOtherProtocol(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	web := newScripted(ProtocolHTTP, statusReplies())
	c := newFacade(sock, web)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx))
	require.Equal(t, ProtocolSocket, c.Protocol())

	sock.setDown(true)
	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, ProtocolHTTP, c.Protocol())
	assert.Equal(t, []string{"resume|"}, web.commands())

	// Later calls go straight to HTTP without touching the socket
	before := len(sock.commands())
	require.NoError(t, c.Reboot(ctx))
	assert.Len(t, sock.commands(), before)
	assert.Equal(t, 1, sock.probeCount())
}

func TestDeviceClient_BothDownResetsToUnknown(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	web := newScripted(ProtocolHTTP, statusReplies())
	c := newFacade(sock, web)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx))
	require.Equal(t, ProtocolSocket, c.Protocol())

	sock.setDown(true)
	web.setDown(true)
	err := c.Resume(ctx)
	require.Error(t, err)
	assert.True(t, IsConnectionClass(err))
	assert.Equal(t, ProtocolUnknown, c.Protocol())

	// The next call re-probes from scratch
	sock.setDown(false)
	web.setDown(false)
	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, 2, sock.probeCount())
	assert.Equal(t, ProtocolSocket, c.Protocol())
}

func TestDeviceClient_DetectionFailureFailsFast(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	web := newScripted(ProtocolHTTP, nil)
	sock.setDown(true)
	web.setDown(true)
	c := newFacade(sock, web)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.GetStatus(ctx)
	require.Error(t, err)
	assert.True(t, IsProtocolUnavailable(err), "got %v", err)
	assert.Equal(t, ProtocolUnknown, c.Protocol())

	_, err = c.GetStatus(ctx)
	assert.True(t, IsProtocolUnavailable(err))
	assert.Equal(t, 1, sock.probeCount(), "no re-probe inside the reprobe interval")

	now = now.Add(DefaultReprobeInterval + time.Second)
	sock.setDown(false)
	_, err = c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sock.probeCount())
}

func TestDeviceClient_AuthFailureSurfaced(t *testing.T) {
	sock := newScripted(ProtocolSocket, nil)
	sock.setDown(true)
	web := newScripted(ProtocolHTTP, nil)
	web.probeErr = NewAuthError("all credential candidates refused")
	c := newFacade(sock, web)

	_, err := c.GetStatus(context.Background())
	assert.True(t, IsAuthError(err), "got %v", err)
}

func TestDeviceClient_ApplicationErrorsDoNotFallBack(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	web := newScripted(ProtocolHTTP, statusReplies())
	sock.errs["profileset"] = NewRejectedError("profileset", "invalid profile")
	c := newFacade(sock, web)

	err := c.SetPowerProfile(context.Background(), Manual(-3))
	assert.True(t, IsRejected(err))
	assert.Empty(t, web.commands())
	assert.Equal(t, ProtocolSocket, c.Protocol())
}

func TestDeviceClient_OptionalQueriesTolerated(t *testing.T) {
	replies := statusReplies()
	replies["profileget"] = `{"STATUS":[{"STATUS":"E","Msg":"Invalid command"}]}`
	replies["stats"] = `{"STATS":{"oops":true}}`
	sock := newScripted(ProtocolSocket, replies)
	c := newFacade(sock, newScripted(ProtocolHTTP, nil))

	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.ProfileKnown)
	assert.Contains(t, status.Errors, "profileget")
	assert.Contains(t, status.Errors, "stats")
	assert.Len(t, status.Boards, 3, "devs still parsed")
}

func TestDeviceClient_SummaryIsMandatory(t *testing.T) {
	replies := statusReplies()
	replies["summary"] = `{"STATUS":[{"STATUS":"S"}]}`
	c := newFacade(newScripted(ProtocolSocket, replies), newScripted(ProtocolHTTP, nil))

	_, err := c.GetStatus(context.Background())
	assert.True(t, IsMalformed(err), "got %v", err)
	assert.Nil(t, c.LastStatus())
}

func TestDeviceClient_SetBoardEnabledIdempotent(t *testing.T) {
	sock := newScripted(ProtocolSocket, statusReplies())
	c := newFacade(sock, newScripted(ProtocolHTTP, nil))
	ctx := context.Background()

	_, err := c.GetStatus(ctx)
	require.NoError(t, err)
	before := len(sock.commands())

	// Boards 0 and 1 are enabled, board 2 is disabled
	for _, tc := range []struct {
		id      int
		enabled bool
	}{{0, true}, {1, true}, {2, false}} {
		issued, err := c.SetBoardEnabled(ctx, tc.id, tc.enabled)
		require.NoError(t, err)
		assert.False(t, issued, "board %d", tc.id)
	}
	assert.Len(t, sock.commands(), before, "no command for boards already in state")

	issued, err := c.SetBoardEnabled(ctx, 1, false)
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, "disableboard|1", sock.commands()[len(sock.commands())-1])

	// The cache follows the command
	issued, err = c.SetBoardEnabled(ctx, 1, false)
	require.NoError(t, err)
	assert.False(t, issued)
}

func TestDeviceClient_AlreadyInStateRejectionIsNoop(t *testing.T) {
	sock := newScripted(ProtocolSocket, nil)
	sock.errs["enableboard"] = NewRejectedError("enableboard", "Board 0 is already enabled")
	c := newFacade(sock, newScripted(ProtocolHTTP, nil))

	issued, err := c.SetBoardEnabled(context.Background(), 0, true)
	require.NoError(t, err)
	assert.False(t, issued)

	require.NoError(t, c.ForceBoardEnabled(context.Background(), 0, true))
}

func TestDeviceClient_Validation(t *testing.T) {
	sock := newScripted(ProtocolSocket, nil)
	c := newFacade(sock, newScripted(ProtocolHTTP, nil))
	ctx := context.Background()

	assert.True(t, IsValidation(c.SetPowerProfile(ctx, PowerProfile(9))))
	assert.True(t, IsValidation(c.SetFrequency(ctx, 0)))
	assert.True(t, IsValidation(c.Curtail(ctx, -1)))
	assert.True(t, IsValidation(c.Throttle(ctx, 1.5)))
	assert.True(t, IsValidation(c.SetFanSpeed(ctx, 101)))
	_, err := c.SetBoardEnabled(ctx, -1, true)
	assert.True(t, IsValidation(err))
	assert.Empty(t, sock.commands())
}

func TestDeviceClient_CommandVocabulary(t *testing.T) {
	sock := newScripted(ProtocolSocket, map[string]string{
		"version": `{"VERSION":[{"LUXminer":"2024.6.1","API":"3.7"}]}`,
	})
	c := newFacade(sock, newScripted(ProtocolHTTP, nil))
	ctx := context.Background()

	require.NoError(t, c.SetPowerProfile(ctx, MaxPower))
	require.NoError(t, c.SetFrequency(ctx, 600))
	require.NoError(t, c.Curtail(ctx, 2500))
	require.NoError(t, c.Throttle(ctx, 0.25))
	require.NoError(t, c.SetFanSpeed(ctx, 80))
	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024.6.1", v.Miner)

	assert.Equal(t, []string{
		"profileset|+2",
		"frequencyset|600",
		"power|2500",
		"curtail|25",
		"fanset|80",
		"version|",
	}, sock.commands())
}

func TestDeviceClient_CloseClosesBothTransports(t *testing.T) {
	sock := newScripted(ProtocolSocket, nil)
	web := newScripted(ProtocolHTTP, nil)
	c := newFacade(sock, web)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, sock.closed)
	assert.Equal(t, 1, web.closed)
}
