package source

import (
	"time"

	"letmego-core/internal/config/schema"
)

// Default values shared with components that are built without a loader
const (
	DefaultKeyLength         = 6
	DefaultCharset           = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultAnchorPort        = 51820
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultGraceWindow       = 4 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultLatencyAlpha      = 0.25
)

// DefaultSource provides default configuration values
type DefaultSource struct{}

// NewDefaultSource creates a new DefaultSource
func NewDefaultSource() *DefaultSource {
	return &DefaultSource{}
}

// Name returns the source name
func (s *DefaultSource) Name() string {
	return "defaults"
}

// Priority returns the source priority
func (s *DefaultSource) Priority() int {
	return PriorityDefaults
}

// LoadInto loads default values into the configuration
func (s *DefaultSource) LoadInto(cfg *schema.Root) error {
	// Anchor defaults
	cfg.Anchor.Name = "LetMeStay"
	cfg.Anchor.Protocols.TCP = schema.ListenerConfig{Enabled: true, Host: "0.0.0.0", Port: DefaultAnchorPort}
	cfg.Anchor.Protocols.WebSocket = schema.WebSocketConfig{
		ListenerConfig: schema.ListenerConfig{Enabled: false, Host: "0.0.0.0", Port: 51821},
		Path:           "/letmego",
	}
	cfg.Anchor.Protocols.QUIC = schema.ListenerConfig{Enabled: false, Host: "0.0.0.0", Port: DefaultAnchorPort}
	cfg.Anchor.Protocols.KCP = schema.ListenerConfig{Enabled: false, Host: "0.0.0.0", Port: 51822}
	cfg.Anchor.Guard = schema.GuardConfig{
		Enabled:           true,
		AttemptsPerMinute: 10,
		Burst:             5,
		MaxTrackedPeers:   4096,
		MaxFailures:       5,
		FailureWindow:     5 * time.Minute,
		BanDuration:       15 * time.Minute,
	}

	// Satellite defaults
	cfg.Satellite.AnchorAddress = "127.0.0.1:51820"
	cfg.Satellite.Protocol = schema.ProtocolTCP
	cfg.Satellite.Name = "Satellite"
	cfg.Satellite.DeviceType = "laptop"
	cfg.Satellite.ConnectTimeout = 10 * time.Second

	// Pairing defaults
	cfg.Pairing.KeyLength = DefaultKeyLength
	cfg.Pairing.Charset = DefaultCharset
	cfg.Pairing.KeyExpiry = 0
	cfg.Pairing.Policy = schema.PolicyMultiSession

	// Session defaults
	cfg.Session.HeartbeatInterval = DefaultHeartbeatInterval
	cfg.Session.GraceWindow = DefaultGraceWindow
	cfg.Session.HandshakeTimeout = DefaultHandshakeTimeout
	cfg.Session.LatencyAlpha = DefaultLatencyAlpha

	// Management defaults
	cfg.Management.Enabled = true
	cfg.Management.Listen = "127.0.0.1:51880"
	cfg.Management.Auth.Issuer = "letmestay-anchor"
	cfg.Management.Auth.TokenTTL = 24 * time.Hour

	// Log defaults
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Console = true

	return nil
}
