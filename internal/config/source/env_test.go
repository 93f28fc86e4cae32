package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letmego-core/internal/config/schema"
)

func newTestEnvSource(vars map[string]string) *EnvSource {
	s := NewEnvSource("LETMEGO")
	s.lookup = func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
	return s
}

func TestEnvSource_LoadInto(t *testing.T) {
	s := newTestEnvSource(map[string]string{
		"LETMEGO_PAIRING_KEY_LENGTH":         "8",
		"LETMEGO_PAIRING_POLICY":             "single",
		"LETMEGO_SESSION_GRACE_WINDOW":       "10s",
		"LETMEGO_SESSION_LATENCY_ALPHA":      "0.5",
		"LETMEGO_ANCHOR_QUIC_ENABLED":        "true",
		"LETMEGO_MANAGEMENT_AUTH_SECRET":     "top-secret",
		"LETMEGO_SATELLITE_ANCHOR_ADDRESS":   "10.0.0.2:51820",
		"LETMEGO_SESSION_HEARTBEAT_INTERVAL": "not-a-duration",
	})

	cfg := &schema.Root{}
	require.NoError(t, NewDefaultSource().LoadInto(cfg))
	require.NoError(t, s.LoadInto(cfg))

	assert.Equal(t, 8, cfg.Pairing.KeyLength)
	assert.Equal(t, schema.PolicySingleSession, cfg.Pairing.Policy)
	assert.Equal(t, 10*time.Second, cfg.Session.GraceWindow)
	assert.InDelta(t, 0.5, cfg.Session.LatencyAlpha, 1e-9)
	assert.True(t, cfg.Anchor.Protocols.QUIC.Enabled)
	assert.Equal(t, "top-secret", cfg.Management.Auth.Secret.Value())
	assert.Equal(t, "10.0.0.2:51820", cfg.Satellite.AnchorAddress)
	// 无法解析的值被忽略
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Session.HeartbeatInterval)
}

func TestEnvSource_IgnoresBlankValues(t *testing.T) {
	s := newTestEnvSource(map[string]string{"LETMEGO_LOG_LEVEL": "   "})
	cfg := &schema.Root{Log: schema.LogConfig{Level: "warn"}}

	require.NoError(t, s.LoadInto(cfg))
	assert.Equal(t, "warn", cfg.Log.Level)
}
