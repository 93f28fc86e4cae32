package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letmego-core/internal/config/schema"
	"letmego-core/internal/config/source"
	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/health"
	"letmego-core/internal/pairing"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/satellite"
)

func testRoot(t *testing.T) *schema.Root {
	t.Helper()
	root := &schema.Root{}
	require.NoError(t, source.NewDefaultSource().LoadInto(root))
	root.Anchor.Name = "Studio-PC"
	root.Anchor.Protocols.TCP.Host = "127.0.0.1"
	root.Anchor.Protocols.TCP.Port = 0
	root.Anchor.Guard.Enabled = false
	root.Management.Listen = "127.0.0.1:0"
	return root
}

func startApp(t *testing.T, root *schema.Root) *App {
	t.Helper()
	app, err := New(context.Background(), root, corelog.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, app.Start())
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func listenerAddr(t *testing.T, app *App, protocol string) string {
	t.Helper()
	for _, l := range app.Listeners() {
		if l.Protocol == protocol {
			return l.Address
		}
	}
	t.Fatalf("no %s listener", protocol)
	return ""
}

func TestApp_SatellitePairsOverTCP(t *testing.T) {
	app := startApp(t, testRoot(t))

	key, err := app.Service().CurrentKey()
	require.NoError(t, err, "Start should generate the initial key")

	client, err := satellite.New(context.Background(), satellite.Config{
		AnchorAddress: listenerAddr(t, app, "tcp"),
		Protocol:      "tcp",
		Name:          "Pixel",
		DeviceType:    "phone",
		Logger:        corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.AttemptConnection(ctx, key.Value)
	require.NoError(t, err)
	assert.Equal(t, session.StateEstablished, client.Status().State)
	assert.Equal(t, "Studio-PC", client.Status().AnchorName)

	require.Eventually(t, func() bool { return len(app.Service().ListSessions()) == 1 },
		2*time.Second, 10*time.Millisecond)
	got := app.Service().ListSessions()[0]
	assert.Equal(t, "Pixel", got.Name)
	assert.Equal(t, client.Fingerprint(), got.Fingerprint)

	view := app.View()
	assert.Equal(t, key.Value, view.Key)
	assert.Len(t, view.Sessions, 1)
	assert.NotEmpty(t, view.Management)
}

func TestApp_ManagementAPI(t *testing.T) {
	app := startApp(t, testRoot(t))
	require.NotNil(t, app.API())

	resp, err := http.Get("http://" + app.API().Addr().String() + "/api/key")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)

	key, err := app.Service().CurrentKey()
	require.NoError(t, err)
	assert.Equal(t, key.Value, body.Data.Key)
}

func TestApp_HealthReportsListeners(t *testing.T) {
	app := startApp(t, testRoot(t))

	resp, err := http.Get("http://" + app.API().Addr().String() + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data health.Report `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, health.ComponentStatusHealthy, body.Data.Status)
	require.Len(t, body.Data.Components, 2)
	assert.Equal(t, "listeners", body.Data.Components[1].Name)
	assert.Equal(t, "1 listeners", body.Data.Components[1].Message)
}

func TestApp_ManagementDisabled(t *testing.T) {
	root := testRoot(t)
	root.Management.Enabled = false
	app := startApp(t, root)
	assert.Nil(t, app.API())
	assert.Empty(t, app.View().Management)
}

func TestApp_WebSocketListener(t *testing.T) {
	root := testRoot(t)
	root.Anchor.Protocols.TCP.Enabled = false
	root.Anchor.Protocols.WebSocket.Enabled = true
	root.Anchor.Protocols.WebSocket.Host = "127.0.0.1"
	root.Anchor.Protocols.WebSocket.Port = 0
	root.Anchor.Protocols.WebSocket.Path = "/pair"
	app := startApp(t, root)

	addr := listenerAddr(t, app, "websocket")
	assert.Contains(t, addr, "/pair")

	key, err := app.Service().CurrentKey()
	require.NoError(t, err)

	client, err := satellite.New(context.Background(), satellite.Config{
		AnchorAddress: "ws://" + addr,
		Protocol:      "websocket",
		Name:          "MacBook",
		DeviceType:    "laptop",
		Logger:        corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.AttemptConnection(ctx, key.Value)
	require.NoError(t, err)
	assert.Equal(t, session.StateEstablished, client.Status().State)
}

func TestApp_NoListenerEnabled(t *testing.T) {
	root := testRoot(t)
	root.Anchor.Protocols.TCP.Enabled = false
	app, err := New(context.Background(), root, corelog.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	err = app.Start()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError), "got %v", err)
}

func TestApp_InvalidPairingConfig(t *testing.T) {
	root := testRoot(t)
	root.Pairing.Policy = "exclusive"
	_, err := New(context.Background(), root, corelog.NewNopLogger())
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError), "got %v", err)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := New(context.Background(), testRoot(t), corelog.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(app.Listeners()) == 1 }, 2*time.Second, 10*time.Millisecond)
	key, err := app.Service().CurrentKey()
	require.NoError(t, err)

	client, err := satellite.New(context.Background(), satellite.Config{
		AnchorAddress: listenerAddr(t, app, "tcp"),
		Logger:        corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.AttemptConnection(context.Background(), key.Value)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, app.IsClosed())
	assert.Empty(t, app.Service().ListSessions())
	require.Eventually(t, func() bool { return client.Status().State == session.StateClosed },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, coreerrors.CodeDisconnected, client.Status().CloseReason)
}

func TestEnabledListeners(t *testing.T) {
	p := schema.ProtocolsConfig{
		TCP:  schema.ListenerConfig{Enabled: true, Host: "0.0.0.0", Port: 51820},
		QUIC: schema.ListenerConfig{Enabled: true, Host: "::", Port: 51820},
		KCP:  schema.ListenerConfig{Enabled: false, Host: "0.0.0.0", Port: 51822},
		WebSocket: schema.WebSocketConfig{
			ListenerConfig: schema.ListenerConfig{Enabled: true, Host: "0.0.0.0", Port: 51821},
		},
	}
	specs := enabledListeners(p)
	require.Len(t, specs, 3)
	assert.Equal(t, listenerSpec{protocol: "tcp", address: "0.0.0.0:51820"}, specs[0])
	assert.Equal(t, listenerSpec{protocol: "websocket", address: "0.0.0.0:51821", path: "/letmego"}, specs[1])
	assert.Equal(t, listenerSpec{protocol: "quic", address: "[::]:51820"}, specs[2])
}

func TestDashboardRender(t *testing.T) {
	var buf bytes.Buffer
	d := NewDashboard(&buf)
	d.Render(View{
		AnchorName: "Studio-PC",
		Key:        "7K3P9Q",
		Listeners: []ListenerInfo{
			{Protocol: "websocket", Address: "0.0.0.0:51821/letmego"},
			{Protocol: "tcp", Address: "0.0.0.0:51820"},
		},
		Sessions: []pairing.SessionInfo{
			{Name: "Pixel", DeviceType: "phone", LatencyMs: 23, State: "Established"},
		},
	})

	out := buf.String()
	assert.NotContains(t, out, "\033[2J", "non-terminal output is not cleared")
	assert.Contains(t, out, "Studio-PC")
	assert.Contains(t, out, "7 K 3 P 9 Q")
	assert.Contains(t, out, "Pixel")
	assert.Contains(t, out, "23 ms")
	assert.Contains(t, out, "Listening on port 51820")
}

func TestDashboardRender_NoKey(t *testing.T) {
	var buf bytes.Buffer
	NewDashboard(&buf).Render(View{AnchorName: "Studio-PC"})
	assert.Contains(t, buf.String(), "no active key")
	assert.Contains(t, buf.String(), "Waiting for a Satellite")
}

func TestPrimaryPort(t *testing.T) {
	assert.Equal(t, "51821", primaryPort([]ListenerInfo{{Protocol: "websocket", Address: "0.0.0.0:51821/ws"}}))
	assert.Equal(t, "51820", primaryPort([]ListenerInfo{
		{Protocol: "kcp", Address: "0.0.0.0:51822"},
		{Protocol: "tcp", Address: "0.0.0.0:51820"},
	}))
	assert.Empty(t, primaryPort(nil))
}

func TestAttachDashboard_RerendersOnEvents(t *testing.T) {
	app := startApp(t, testRoot(t))

	var buf safeBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.AttachDashboard(ctx, NewDashboard(&buf)))

	first, err := app.Service().CurrentKey()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), spaced(first.Value))

	next, err := app.Service().RegenerateKey()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(buf.String(), spaced(next.Value)) },
		2*time.Second, 10*time.Millisecond)
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
