package miner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/protocol"
)

const (
	// DefaultHTTPTimeout is the default HTTP request timeout
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultSessionIdleTimeout is how long an unused session is trusted
	DefaultSessionIdleTimeout = 5 * time.Minute
)

// Cookie names some firmwares use instead of a session_id body field
var sessionCookieNames = []string{"session_id", "sysauth"}

// Reply fragments that mean the session token is no longer accepted
var sessionInvalidMarkers = []string{"session", "not logged", "unauthorized", "access denied"}

// SessionClient talks to the session-authenticated HTTP API of one miner.
//
// The first call logs on: candidate URLs are tried in order until one answers
// a logon request, then credentials are tried in order until one is accepted.
// The working URL and credential are remembered. A reply that reports an
// invalid session causes exactly one re-logon with the remembered credential.
type SessionClient struct {
	// Endpoint describes the miner, its candidate URLs and credentials
	Endpoint DeviceEndpoint

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// IdleTimeout expires a session that has not been used (0 = never)
	IdleTimeout time.Duration

	// ConnectTimeout bounds the TCP dial of each request
	ConnectTimeout time.Duration

	// dial replaces the network dial when set
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu          sync.Mutex
	url         string
	credential  *Credential
	sessionID   string
	cookies     []*http.Cookie
	loggedIn    bool
	lastUsed    time.Time
	logonTrials int
}

var _ Transport = (*SessionClient)(nil)

// NewSessionClient creates an HTTP session client for an endpoint
func NewSessionClient(ep DeviceEndpoint) *SessionClient {
	ep = ep.withDefaults()
	c := &SessionClient{
		Endpoint:       ep,
		IdleTimeout:    DefaultSessionIdleTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
	c.HTTPClient = &http.Client{
		Timeout: DefaultHTTPTimeout,
		Transport: &http.Transport{
			DialContext:         c.dialContext,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	return c
}

// SetTimeout sets the HTTP request timeout
func (c *SessionClient) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

func (c *SessionClient) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}
	if c.dial != nil {
		return c.dial(ctx, network, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Protocol implements Transport
func (c *SessionClient) Protocol() Protocol { return ProtocolHTTP }

// WorkingURL returns the negotiated URL, or "" before the first logon.
func (c *SessionClient) WorkingURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// ActiveCredential returns the credential that opened the current session.
func (c *SessionClient) ActiveCredential() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credential == nil {
		return Credential{}, false
	}
	return *c.credential, true
}

// LogonAttempts returns how many logon requests have been sent.
func (c *SessionClient) LogonAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logonTrials
}

// Probe opens a session if none is open
func (c *SessionClient) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionValid() {
		return nil
	}
	if err := c.logon(ctx, true); err != nil {
		return c.wrap("logon", err)
	}
	return nil
}

// Send implements Transport
func (c *SessionClient) Send(ctx context.Context, cmd, param string) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	resp, err := c.send(ctx, cmd, param)
	logging.LogCommand(c.Endpoint.Host, ProtocolHTTP.String(), cmd, time.Since(start), err)
	return resp, err
}

func (c *SessionClient) send(ctx context.Context, cmd, param string) (*protocol.Response, error) {
	// we try up to 2 times because the session might have been dropped by the device
	for attempt := 0; attempt < 2; attempt++ {
		if !c.sessionValid() {
			if err := c.logon(ctx, attempt == 0); err != nil {
				return nil, c.wrap(cmd, err)
			}
		}

		reply, err := c.post(ctx, c.url, protocol.Request{
			Command:   cmd,
			Parameter: param,
			SessionID: c.sessionID,
		})
		if err != nil {
			return nil, c.wrap(cmd, err)
		}

		if reply.sessionRejected() {
			if attempt == 0 {
				logging.Debug("HTTP session no longer valid, logging on again",
					zap.String("device", c.Endpoint.Host),
					zap.String("command", cmd))
				c.dropSession()
				continue
			}
			c.dropSession()
			return nil, c.wrap(cmd, NewAuthError("session rejected after re-logon"))
		}

		// The URL answered logon, so any other status is a bad reply, not
		// a reachability problem.
		if reply.status != http.StatusOK {
			return nil, c.wrap(cmd, &DeviceError{
				Type:       ErrTypeMalformed,
				Message:    fmt.Sprintf("unexpected status code: %d", reply.status),
				StatusCode: reply.status,
			})
		}
		if reply.resp == nil {
			return nil, c.wrap(cmd, NewMalformedError("reply is not a JSON object", reply.decodeErr))
		}

		c.lastUsed = time.Now()
		if reason := reply.resp.Rejection(); reason != "" {
			return reply.resp, c.wrap(cmd, NewRejectedError(cmd, reason))
		}
		return reply.resp, nil
	}
	return nil, c.wrap(cmd, NewAuthError("session rejected after re-logon"))
}

// Close logs off. The working URL is forgotten with the session.
func (c *SessionClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loggedIn {
		return nil
	}
	var err error
	if c.sessionID != "" || len(c.cookies) > 0 {
		_, err = c.post(ctx, c.url, protocol.Request{Command: "logoff", SessionID: c.sessionID})
	}
	c.dropSession()
	c.url = ""
	if err != nil {
		return c.wrap("logoff", err)
	}
	return nil
}

func (c *SessionClient) sessionValid() bool {
	if !c.loggedIn {
		return false
	}
	if c.IdleTimeout > 0 && time.Since(c.lastUsed) > c.IdleTimeout {
		return false
	}
	return true
}

func (c *SessionClient) dropSession() {
	c.loggedIn = false
	c.sessionID = ""
	c.cookies = nil
}

// logon establishes a session. The remembered credential is tried first.
// When full is set and it is refused (or none was remembered yet) every
// candidate is tried once, in order.
func (c *SessionClient) logon(ctx context.Context, full bool) error {
	if c.credential != nil {
		ok, err := c.tryLogon(ctx, *c.credential)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		logging.Debug("Remembered credential refused",
			zap.String("device", c.Endpoint.Host),
			zap.Stringer("credential", c.credential))
		c.credential = nil
		if !full {
			return NewAuthError("remembered credential refused")
		}
	}

	for _, cred := range c.Endpoint.Credentials {
		ok, err := c.tryLogon(ctx, cred)
		if err != nil {
			return err
		}
		if ok {
			c.credential = &cred
			logging.Info("HTTP session established",
				zap.String("device", c.Endpoint.Host),
				zap.String("url", c.url),
				zap.Stringer("credential", cred))
			return nil
		}
	}
	return &DeviceError{
		Type:       ErrTypeAuth,
		Message:    fmt.Sprintf("all %d credential candidates refused", len(c.Endpoint.Credentials)),
		Command:    "logon",
		Protocol:   ProtocolHTTP,
		DeviceHost: c.Endpoint.Host,
	}
}

// tryLogon sends one logon request. It returns false for a refused
// credential and an error only when the API itself is unusable.
func (c *SessionClient) tryLogon(ctx context.Context, cred Credential) (bool, error) {
	req := protocol.Request{Command: "logon", Parameter: cred.Format()}

	var reply *httpReply
	if c.url == "" {
		r, err := c.negotiate(ctx, req)
		if err != nil {
			return false, err
		}
		reply = r
	} else {
		c.logonTrials++
		r, err := c.post(ctx, c.url, req)
		if err != nil {
			return false, c.wrap("logon", err)
		}
		reply = r
	}

	if reply.status != http.StatusOK || reply.resp == nil {
		return false, nil
	}
	if reply.resp.Rejection() != "" {
		return false, nil
	}

	sessionID := reply.resp.SessionID
	var cookies []*http.Cookie
	for _, ck := range reply.cookies {
		for _, name := range sessionCookieNames {
			if strings.EqualFold(ck.Name, name) {
				cookies = append(cookies, ck)
				if sessionID == "" {
					sessionID = ck.Value
				}
			}
		}
	}

	// Sessionless firmwares answer logon with a plain success status
	if sessionID == "" && reply.resp.Code() != protocol.StatusSuccess {
		return false, nil
	}

	c.sessionID = sessionID
	c.cookies = cookies
	c.loggedIn = true
	c.lastUsed = time.Now()
	return true, nil
}

// negotiate walks the candidate URLs with a logon request and fixes the
// first one that answers like the API.
func (c *SessionClient) negotiate(ctx context.Context, req protocol.Request) (*httpReply, error) {
	var lastErr error
	for _, candidate := range c.Endpoint.Candidates() {
		c.logonTrials++
		reply, err := c.post(ctx, candidate, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !reply.apiShaped() {
			logging.Debug("API path candidate rejected",
				zap.String("device", c.Endpoint.Host),
				zap.String("url", candidate),
				zap.Int("status", reply.status))
			if lastErr == nil {
				lastErr = NewMalformedError(fmt.Sprintf("%s did not answer like the miner API (HTTP %d)", candidate, reply.status), reply.decodeErr)
			}
			continue
		}
		c.url = candidate
		return reply, nil
	}
	if lastErr == nil {
		lastErr = NewValidationError("endpoint has no HTTP candidates")
	}
	return nil, c.wrap("logon", lastErr)
}

type httpReply struct {
	status    int
	resp      *protocol.Response
	decodeErr error
	cookies   []*http.Cookie
}

// apiShaped reports whether the reply came from the miner API: valid JSON,
// or an explicit auth refusal.
func (r *httpReply) apiShaped() bool {
	if r.status == http.StatusUnauthorized || r.status == http.StatusForbidden {
		return true
	}
	return r.status == http.StatusOK && r.resp != nil
}

func (r *httpReply) sessionRejected() bool {
	if r.status == http.StatusUnauthorized || r.status == http.StatusForbidden {
		return true
	}
	if r.resp == nil {
		return false
	}
	reason := strings.ToLower(r.resp.Rejection())
	if reason == "" {
		return false
	}
	for _, marker := range sessionInvalidMarkers {
		if strings.Contains(reason, marker) {
			return true
		}
	}
	return false
}

func (c *SessionClient) post(ctx context.Context, target string, req protocol.Request) (*httpReply, error) {
	body, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid API URL %q: %v", target, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for _, ck := range c.cookies {
		httpReq.AddCookie(ck)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyNetworkError(err, c.Endpoint.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, protocol.MaxResponseSize))
	if err != nil {
		return nil, ClassifyNetworkError(err, c.Endpoint.Host)
	}

	reply := &httpReply{status: resp.StatusCode, cookies: resp.Cookies()}
	if len(data) > 0 {
		reply.resp, reply.decodeErr = protocol.DecodeResponse(data)
	}
	return reply, nil
}

func (c *SessionClient) wrap(cmd string, err error) error {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		devErr = NewConnectionError("request failed", err)
	}
	if devErr.Command == "" {
		devErr.Command = cmd
	}
	devErr.Protocol = ProtocolHTTP
	devErr.DeviceHost = c.Endpoint.Host
	return devErr
}
