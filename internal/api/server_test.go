package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/health"
	"letmego-core/internal/pairing"
	"letmego-core/internal/satellite"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

type keyBody struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
}

func newTestServer(t *testing.T, auth AuthConfig) (*Server, *pairing.Service, *httptest.Server) {
	t.Helper()
	svc, err := pairing.NewService(context.Background(), pairing.Config{
		AnchorName: "Studio-PC",
		Logger:     corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	s := NewServer(context.Background(), Config{Auth: auth, Logger: corelog.NewNopLogger()}, svc)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, svc, ts
}

func doRequest(t *testing.T, method, url, token string) (int, apiResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestKeyEndpoints(t *testing.T) {
	_, _, ts := newTestServer(t, AuthConfig{})

	status, body := doRequest(t, http.MethodGet, ts.URL+"/api/key", "")
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "NO_ACTIVE_KEY", body.Error.Code)
	assert.False(t, body.Success)

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/key", "")
	require.Equal(t, http.StatusOK, status)
	var first keyBody
	require.NoError(t, json.Unmarshal(body.Data, &first))
	assert.Len(t, first.Key, 6)
	assert.Equal(t, "Open", first.Status)

	_, body = doRequest(t, http.MethodPost, ts.URL+"/api/key", "")
	var again keyBody
	require.NoError(t, json.Unmarshal(body.Data, &again))
	assert.Equal(t, first.Key, again.Key, "generate returns the open key")

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/key/regenerate", "")
	require.Equal(t, http.StatusCreated, status)
	var rotated keyBody
	require.NoError(t, json.Unmarshal(body.Data, &rotated))
	assert.NotEqual(t, first.Key, rotated.Key)
	assert.Greater(t, rotated.Generation, first.Generation)

	status, body = doRequest(t, http.MethodGet, ts.URL+"/api/key", "")
	require.Equal(t, http.StatusOK, status)
	var current keyBody
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, rotated.Key, current.Key)
}

func TestSessionEndpoints(t *testing.T) {
	_, svc, ts := newTestServer(t, AuthConfig{})

	status, body := doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, status)
	var list SessionListResponse
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Equal(t, 0, list.Total)

	status, body = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	key, err := svc.GenerateKey()
	require.NoError(t, err)
	client, err := satellite.New(context.Background(), satellite.Config{
		AnchorAddress: "pipe",
		Name:          "MacBook",
		DeviceType:    "laptop",
		Logger:        corelog.NewNopLogger(),
		Dial: func(ctx context.Context, _ string) (net.Conn, error) {
			local, remote := net.Pipe()
			go func() { _, _ = svc.Accept(context.Background(), remote) }()
			return local, nil
		},
	})
	require.NoError(t, err)
	defer client.Close()

	st, err := client.AttemptConnection(context.Background(), key.Value)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(svc.ListSessions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, body = doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	require.NoError(t, json.Unmarshal(body.Data, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, st.SessionID, list.Sessions[0].ID)
	assert.Equal(t, "MacBook", list.Sessions[0].Name)
	assert.Equal(t, "laptop", list.Sessions[0].DeviceType)
	assert.Equal(t, "Established", list.Sessions[0].State)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions/"+st.SessionID, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/"+st.SessionID, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, svc.ListSessions())
}

func TestStatsAndHealth(t *testing.T) {
	_, svc, ts := newTestServer(t, AuthConfig{})

	status, body := doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	var report health.Report
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, health.ComponentStatusDegraded, report.Status, "no key yet")
	require.Len(t, report.Components, 1)
	assert.Equal(t, "pairing", report.Components[0].Name)

	_, err := svc.GenerateKey()
	require.NoError(t, err)
	_, body = doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, health.ComponentStatusHealthy, report.Status)

	status, body = doRequest(t, http.MethodGet, ts.URL+"/api/stats", "")
	require.Equal(t, http.StatusOK, status)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.NotNil(t, stats.Metrics.Counters)
	assert.Equal(t, 6, stats.Pairing.KeyLength)
	assert.Equal(t, "1073741824", stats.Pairing.KeySpace)
	assert.Zero(t, stats.Pairing.BannedHosts)

	require.NoError(t, svc.Close())
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAuthMiddleware(t *testing.T) {
	s, _, ts := newTestServer(t, AuthConfig{Secret: "management-secret"})

	status, _ := doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, status, "health is public")

	status, body := doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	other := NewAuthenticator(AuthConfig{Secret: "other-secret"})
	forged, _, err := other.IssueToken("intruder")
	require.NoError(t, err)
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions", forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	token, expiresAt, err := s.Authenticator().IssueToken("admin")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions", token)
	assert.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/sessions?token="+token, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthenticator_Expired(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Secret: "s3cret", TokenTTL: time.Minute})
	issued := time.Now().Add(-time.Hour)
	a.now = func() time.Time { return issued }
	token, _, err := a.IssueToken("admin")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator(AuthConfig{})
	assert.False(t, a.Enabled())
	_, _, err := a.IssueToken("admin")
	assert.Error(t, err)
}

func TestEventsWebSocket(t *testing.T) {
	_, svc, ts := newTestServer(t, AuthConfig{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot struct {
		Type     string                `json:"type"`
		Sessions []pairing.SessionInfo `json:"sessions"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Empty(t, snapshot.Sessions)

	key, err := svc.RegenerateKey()
	require.NoError(t, err)

	var event struct {
		Type       string `json:"type"`
		Key        string `json:"key"`
		Generation uint64 `json:"generation"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "KeyRotated", event.Type)
	assert.Equal(t, key.Value, event.Key)
	assert.Equal(t, key.Generation, event.Generation)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := map[string]int{
		"NOT_FOUND":      http.StatusNotFound,
		"NO_ACTIVE_KEY":  http.StatusNotFound,
		"INVALID_PARAM":  http.StatusBadRequest,
		"UNAUTHORIZED":   http.StatusUnauthorized,
		"RATE_LIMITED":   http.StatusTooManyRequests,
		"KEY_REVOKED":    http.StatusConflict,
		"SERVICE_CLOSED": http.StatusServiceUnavailable,
		"INTERNAL_ERROR": http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, httpStatus(coreerrors.ErrorCode(code)), code)
	}
}
