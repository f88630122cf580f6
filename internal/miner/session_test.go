package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiRequest struct {
	Command   string `json:"command"`
	Parameter string `json:"parameter"`
	SessionID string `json:"session_id"`
}

// luxAPI is a scripted HTTP miner API mounted at a single path.
type luxAPI struct {
	mu       sync.Mutex
	path     string
	accept   string // logon parameter that succeeds
	sessions int
	logons   []string
	commands []apiRequest

	// handle overrides the reply for non-logon commands when set
	handle func(req apiRequest, valid bool, w http.ResponseWriter)
}

func (a *luxAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != a.path {
		http.NotFound(w, r)
		return
	}
	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Command {
	case "logon":
		a.logons = append(a.logons, req.Parameter)
		if req.Parameter != a.accept {
			fmt.Fprint(w, `{"STATUS":[{"STATUS":"E","Msg":"Invalid login"}]}`)
			return
		}
		a.sessions++
		fmt.Fprintf(w, `{"STATUS":[{"STATUS":"S"}],"session_id":"s%d"}`, a.sessions)
		return
	}

	a.commands = append(a.commands, req)
	valid := req.SessionID == fmt.Sprintf("s%d", a.sessions)
	if a.handle != nil {
		a.handle(req, valid, w)
		return
	}
	if !valid {
		fmt.Fprint(w, `{"STATUS":[{"STATUS":"E","Msg":"Session not valid"}]}`)
		return
	}
	fmt.Fprint(w, summaryReply)
}

func (a *luxAPI) logonCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.logons)
}

func (a *luxAPI) logonParams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logons...)
}

func (a *luxAPI) received() []apiRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiRequest(nil), a.commands...)
}

func newSessionClient(t *testing.T, api *luxAPI, creds []Credential) (*SessionClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ep := DeviceEndpoint{
		ID:          "s21",
		Host:        "127.0.0.1",
		BaseURLs:    []string{srv.URL},
		APIPaths:    []string{"/cgi-bin/luci/api", "/api"},
		Credentials: creds,
	}
	return NewSessionClient(ep), srv
}

func TestSessionClient_CredentialNegotiation(t *testing.T) {
	api := &luxAPI{path: "/api", accept: ","}
	creds := []Credential{
		{Username: "root", Password: "root"},
		{Username: "admin", Password: "admin"},
		{Username: "", Password: ""},
	}
	client, srv := newSessionClient(t, api, creds)
	ctx := context.Background()

	_, err := client.Send(ctx, "summary", "")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/api", client.WorkingURL(), "first path 404s and must be skipped")
	cred, ok := client.ActiveCredential()
	require.True(t, ok)
	assert.Equal(t, creds[2], cred)
	assert.Equal(t, []string{"root,root", "admin,admin", ","}, api.logonParams())

	for i := 0; i < 3; i++ {
		_, err := client.Send(ctx, "summary", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, api.logonCount(), "refused credentials must not be retried")
	for _, cmd := range api.received() {
		assert.Equal(t, "s1", cmd.SessionID)
	}
}

func TestSessionClient_RelogonOnInvalidSession(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "root,root"}
	client, _ := newSessionClient(t, api, []Credential{{Username: "root", Password: "root"}})
	ctx := context.Background()

	require.NoError(t, client.Probe(ctx))
	assert.Equal(t, 1, api.logonCount())

	// Device forgets the session
	api.mu.Lock()
	api.sessions++
	api.mu.Unlock()

	resp, err := client.Send(ctx, "summary", "")
	require.NoError(t, err)
	assert.True(t, resp.Has("SUMMARY"))
	assert.Equal(t, 2, api.logonCount())
}

func TestSessionClient_PersistentInvalidSessionFailsAuth(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "root,root"}
	api.handle = func(_ apiRequest, _ bool, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	client, _ := newSessionClient(t, api, []Credential{{Username: "root", Password: "root"}})

	_, err := client.Send(context.Background(), "summary", "")
	require.Error(t, err)
	assert.True(t, IsAuthError(err), "got %v", err)
	assert.Equal(t, 2, api.logonCount(), "exactly one re-logon")
	assert.Len(t, api.received(), 2)
}

func TestSessionClient_AllCredentialsRefused(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "nobody"}
	client, _ := newSessionClient(t, api, Expand("root", "root"))

	err := client.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err), "got %v", err)
	assert.Equal(t, []string{"root,root", "root:root", "root|root"}, api.logonParams())
	assert.Empty(t, api.received())
}

func TestSessionClient_RejectedCommand(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "root,root"}
	api.handle = func(_ apiRequest, _ bool, w http.ResponseWriter) {
		fmt.Fprint(w, `{"STATUS":[{"STATUS":"E","Msg":"Board 9 out of range"}]}`)
	}
	client, _ := newSessionClient(t, api, []Credential{{Username: "root", Password: "root"}})

	_, err := client.Send(context.Background(), "enableboard", "9")
	require.Error(t, err)
	assert.True(t, IsRejected(err), "got %v", err)
	assert.Equal(t, 1, api.logonCount(), "a rejection is not a session problem")
}

func TestSessionClient_ServerErrorIsNotConnectionFailure(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusNotFound, http.StatusBadGateway} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			api := &luxAPI{path: "/api", accept: "root,root"}
			api.handle = func(_ apiRequest, _ bool, w http.ResponseWriter) {
				http.Error(w, "backend down", code)
			}
			client, _ := newSessionClient(t, api, []Credential{{Username: "root", Password: "root"}})

			_, err := client.Send(context.Background(), "summary", "")
			require.Error(t, err)
			assert.False(t, IsConnectionClass(err), "got %v", err)
			assert.True(t, IsMalformed(err), "got %v", err)

			var devErr *DeviceError
			require.ErrorAs(t, err, &devErr)
			assert.Equal(t, code, devErr.StatusCode)
			assert.Equal(t, 1, api.logonCount())
			assert.NotEmpty(t, client.WorkingURL(), "the negotiated URL is kept")
		})
	}
}

func TestSessionClient_ConnectTimeoutBoundsDial(t *testing.T) {
	client := NewDeviceClient(DeviceEndpoint{ID: "s21", Host: "127.0.0.1"})
	client.SetTimeouts(50*time.Millisecond, 2*time.Second)

	sc := client.HTTP.(*SessionClient)
	assert.Equal(t, 50*time.Millisecond, sc.ConnectTimeout)
	assert.Equal(t, 2050*time.Millisecond, sc.HTTPClient.Timeout)

	var mu sync.Mutex
	var remaining []time.Duration
	sc.dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		if d, ok := ctx.Deadline(); ok {
			mu.Lock()
			remaining = append(remaining, time.Until(d))
			mu.Unlock()
		}
		<-ctx.Done()
		return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
	}

	start := time.Now()
	err := sc.Probe(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "dials must not wait for the request timeout")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, remaining)
	for _, r := range remaining {
		assert.LessOrEqual(t, r, 50*time.Millisecond)
	}
}

func TestSessionClient_NoAPIAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	client := NewSessionClient(DeviceEndpoint{
		Host:     "127.0.0.1",
		BaseURLs: []string{srv.URL},
	})
	err := client.Probe(context.Background())
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.Empty(t, client.WorkingURL())
}

func TestSessionClient_CookieSession(t *testing.T) {
	var mu sync.Mutex
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Command == "logon" {
			http.SetCookie(w, &http.Cookie{Name: "sysauth", Value: "cookie-token"})
			fmt.Fprint(w, `{"STATUS":[{"STATUS":"S"}]}`)
			return
		}
		if ck, err := r.Cookie("sysauth"); err == nil && ck.Value == "cookie-token" {
			mu.Lock()
			sawCookie = true
			mu.Unlock()
		}
		fmt.Fprint(w, okReply)
	}))
	t.Cleanup(srv.Close)

	client := NewSessionClient(DeviceEndpoint{
		Host:        "127.0.0.1",
		BaseURLs:    []string{srv.URL},
		APIPaths:    []string{"/api"},
		Credentials: []Credential{{Username: "root", Password: "root"}},
	})
	_, err := client.Send(context.Background(), "pause", "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawCookie, "command must carry the session cookie")
}

func TestSessionClient_IdleExpiry(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "root,root"}
	client, _ := newSessionClient(t, api, append(Expand("admin", "admin"), Credential{Username: "root", Password: "root"}))
	client.IdleTimeout = time.Nanosecond
	ctx := context.Background()

	_, err := client.Send(ctx, "summary", "")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = client.Send(ctx, "summary", "")
	require.NoError(t, err)

	// Second logon goes straight to the remembered credential
	assert.Equal(t, []string{"admin,admin", "admin:admin", "admin|admin", "root,root", "root,root"}, api.logonParams())
}

func TestSessionClient_CloseLogsOff(t *testing.T) {
	api := &luxAPI{path: "/api", accept: "root,root"}
	api.handle = func(_ apiRequest, _ bool, w http.ResponseWriter) {
		fmt.Fprint(w, okReply)
	}
	client, _ := newSessionClient(t, api, []Credential{{Username: "root", Password: "root"}})
	ctx := context.Background()

	require.NoError(t, client.Probe(ctx))
	require.NoError(t, client.Close(ctx))
	require.NoError(t, client.Close(ctx), "second close is a no-op")

	cmds := api.received()
	require.Len(t, cmds, 1)
	assert.Equal(t, "logoff", cmds[0].Command)
	assert.Equal(t, "s1", cmds[0].SessionID)
	assert.Empty(t, client.WorkingURL())
}
