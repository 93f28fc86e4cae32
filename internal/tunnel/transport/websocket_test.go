//go:build !no_websocket

package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWebSocketURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		hasError bool
	}{
		{name: "ws scheme preserved", input: "ws://example.com/letmego", expected: "ws://example.com/letmego"},
		{name: "wss scheme preserved", input: "wss://example.com/letmego", expected: "wss://example.com/letmego"},
		{name: "http to ws", input: "http://example.com/letmego", expected: "ws://example.com/letmego"},
		{name: "https to wss", input: "https://example.com/letmego", expected: "wss://example.com/letmego"},
		{name: "default path added", input: "ws://example.com", expected: "ws://example.com/letmego"},
		{name: "host:port", input: "192.168.1.20:51820", expected: "ws://192.168.1.20:51820/letmego"},
		{name: "host:port with path", input: "example.com:8080/custom", expected: "ws://example.com:8080/custom"},
		{name: "query preserved", input: "ws://example.com/letmego?x=1", expected: "ws://example.com/letmego?x=1"},
		{name: "missing host", input: "ws:///letmego", hasError: true},
		{name: "empty", input: "", hasError: true},
		{name: "path only", input: "/letmego", hasError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeWebSocketURL(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSplitListenAddress(t *testing.T) {
	host, path := SplitListenAddress("0.0.0.0:51821/tunnel")
	assert.Equal(t, "0.0.0.0:51821", host)
	assert.Equal(t, "/tunnel", path)

	host, path = SplitListenAddress(":51821")
	assert.Equal(t, ":51821", host)
	assert.Equal(t, DefaultWebSocketPath, path)
}

func TestWebSocketRoundTrip(t *testing.T) {
	echoRoundTrip(t, "websocket", "127.0.0.1:0/ws", func(ln net.Listener) string {
		return ln.Addr().String() + "/ws"
	})
}
