package cmd

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing"
	"letmego-core/internal/satellite"
	"letmego-core/internal/satellite/cli"
)

func pipeSatellite(t *testing.T) (*pairing.Service, *satellite.Client) {
	t.Helper()
	svc, err := pairing.NewService(context.Background(), pairing.Config{
		AnchorName: "Studio-PC",
		Logger:     corelog.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	client, err := satellite.New(context.Background(), satellite.Config{
		AnchorAddress: "pipe",
		Name:          "Pixel",
		DeviceType:    "phone",
		Logger:        corelog.NewNopLogger(),
		Dial: func(ctx context.Context, address string) (net.Conn, error) {
			local, remote := net.Pipe()
			go func() { _, _ = svc.Accept(context.Background(), remote) }()
			return local, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return svc, client
}

func TestConnectOnce_ShortKey(t *testing.T) {
	_, client := pipeSatellite(t)
	var buf bytes.Buffer
	err := connectOnce(context.Background(), client, cli.NewOutput(&buf, true), "7K3", 6)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeInvalidParam), "got %v", err)
}

func TestConnectOnce_WrongKey(t *testing.T) {
	svc, client := pipeSatellite(t)
	key, err := svc.GenerateKey()
	require.NoError(t, err)

	wrong := "ZZZZZZ"
	if key.Value == wrong {
		wrong = "YYYYYY"
	}
	var buf bytes.Buffer
	err = connectOnce(context.Background(), client, cli.NewOutput(&buf, true), wrong, 6)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeKeyMismatch), "got %v", err)
	assert.Contains(t, buf.String(), cli.Describe(err))
}

func TestConnectOnce_EndsWhenAnchorDisconnects(t *testing.T) {
	svc, client := pipeSatellite(t)
	key, err := svc.GenerateKey()
	require.NoError(t, err)

	var buf safeBuffer
	done := make(chan error, 1)
	go func() {
		// 用户输入的小写与空格会被规范化
		done <- connectOnce(context.Background(), client, cli.NewOutput(&buf, true), lowerSpaced(key.Value), 6)
	}()

	require.Eventually(t, func() bool { return len(svc.ListSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.DisconnectSession(svc.ListSessions()[0].ID))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connectOnce did not return")
	}
	assert.Contains(t, buf.String(), "Connected to Studio-PC")
	assert.Contains(t, buf.String(), "Disconnected by the Anchor")
}

func TestConnectOnce_CancelDisconnects(t *testing.T) {
	svc, client := pipeSatellite(t)
	key, err := svc.GenerateKey()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var buf safeBuffer
	done := make(chan error, 1)
	go func() { done <- connectOnce(ctx, client, cli.NewOutput(&buf, true), key.Value, 6) }()

	require.Eventually(t, func() bool { return len(svc.ListSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connectOnce did not return")
	}
	require.Eventually(t, func() bool { return len(svc.ListSessions()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func lowerSpaced(key string) string {
	return strings.ToLower(key[:3]) + " " + strings.ToLower(key[3:])
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
