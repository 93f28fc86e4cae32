package source

import (
	"os"
	"strconv"
	"strings"
	"time"

	"letmego-core/internal/config/schema"
)

// EnvSource loads configuration from environment variables.
// Variable names are PREFIX_NAME, e.g. LETMEGO_PAIRING_KEY_LENGTH.
type EnvSource struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvSource creates a new EnvSource with the specified prefix
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{
		prefix: prefix,
		lookup: os.LookupEnv,
	}
}

// Name returns the source name
func (s *EnvSource) Name() string {
	return "env"
}

// Priority returns the source priority
func (s *EnvSource) Priority() int {
	return PriorityEnv
}

// LoadInto loads environment variables into the config structure
func (s *EnvSource) LoadInto(cfg *schema.Root) error {
	// Anchor
	s.loadString("ANCHOR_NAME", &cfg.Anchor.Name)
	s.loadBool("ANCHOR_TCP_ENABLED", &cfg.Anchor.Protocols.TCP.Enabled)
	s.loadString("ANCHOR_TCP_HOST", &cfg.Anchor.Protocols.TCP.Host)
	s.loadInt("ANCHOR_TCP_PORT", &cfg.Anchor.Protocols.TCP.Port)
	s.loadBool("ANCHOR_WEBSOCKET_ENABLED", &cfg.Anchor.Protocols.WebSocket.Enabled)
	s.loadInt("ANCHOR_WEBSOCKET_PORT", &cfg.Anchor.Protocols.WebSocket.Port)
	s.loadString("ANCHOR_WEBSOCKET_PATH", &cfg.Anchor.Protocols.WebSocket.Path)
	s.loadBool("ANCHOR_QUIC_ENABLED", &cfg.Anchor.Protocols.QUIC.Enabled)
	s.loadInt("ANCHOR_QUIC_PORT", &cfg.Anchor.Protocols.QUIC.Port)
	s.loadBool("ANCHOR_KCP_ENABLED", &cfg.Anchor.Protocols.KCP.Enabled)
	s.loadInt("ANCHOR_KCP_PORT", &cfg.Anchor.Protocols.KCP.Port)
	s.loadBool("ANCHOR_GUARD_ENABLED", &cfg.Anchor.Guard.Enabled)
	s.loadInt("ANCHOR_GUARD_ATTEMPTS_PER_MINUTE", &cfg.Anchor.Guard.AttemptsPerMinute)
	s.loadInt("ANCHOR_GUARD_BURST", &cfg.Anchor.Guard.Burst)
	s.loadInt("ANCHOR_GUARD_MAX_FAILURES", &cfg.Anchor.Guard.MaxFailures)
	s.loadDuration("ANCHOR_GUARD_FAILURE_WINDOW", &cfg.Anchor.Guard.FailureWindow)
	s.loadDuration("ANCHOR_GUARD_BAN_DURATION", &cfg.Anchor.Guard.BanDuration)

	// Satellite
	s.loadString("SATELLITE_ANCHOR_ADDRESS", &cfg.Satellite.AnchorAddress)
	s.loadString("SATELLITE_PROTOCOL", &cfg.Satellite.Protocol)
	s.loadString("SATELLITE_NAME", &cfg.Satellite.Name)
	s.loadString("SATELLITE_DEVICE_TYPE", &cfg.Satellite.DeviceType)
	s.loadDuration("SATELLITE_CONNECT_TIMEOUT", &cfg.Satellite.ConnectTimeout)

	// Pairing
	s.loadInt("PAIRING_KEY_LENGTH", &cfg.Pairing.KeyLength)
	s.loadString("PAIRING_CHARSET", &cfg.Pairing.Charset)
	s.loadDuration("PAIRING_KEY_EXPIRY", &cfg.Pairing.KeyExpiry)
	s.loadString("PAIRING_POLICY", &cfg.Pairing.Policy)

	// Session
	s.loadDuration("SESSION_HEARTBEAT_INTERVAL", &cfg.Session.HeartbeatInterval)
	s.loadDuration("SESSION_GRACE_WINDOW", &cfg.Session.GraceWindow)
	s.loadDuration("SESSION_HANDSHAKE_TIMEOUT", &cfg.Session.HandshakeTimeout)
	s.loadFloat("SESSION_LATENCY_ALPHA", &cfg.Session.LatencyAlpha)

	// Management
	s.loadBool("MANAGEMENT_ENABLED", &cfg.Management.Enabled)
	s.loadString("MANAGEMENT_LISTEN", &cfg.Management.Listen)
	s.loadSecret("MANAGEMENT_AUTH_SECRET", &cfg.Management.Auth.Secret)
	s.loadDuration("MANAGEMENT_AUTH_TOKEN_TTL", &cfg.Management.Auth.TokenTTL)

	// Log
	s.loadString("LOG_LEVEL", &cfg.Log.Level)
	s.loadString("LOG_FORMAT", &cfg.Log.Format)
	s.loadString("LOG_FILE", &cfg.Log.File)
	s.loadBool("LOG_CONSOLE", &cfg.Log.Console)

	return nil
}

func (s *EnvSource) getEnv(key string) (string, bool) {
	name := key
	if s.prefix != "" {
		name = s.prefix + "_" + key
	}
	v, ok := s.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (s *EnvSource) loadString(key string, target *string) {
	if v, ok := s.getEnv(key); ok {
		*target = v
	}
}

func (s *EnvSource) loadSecret(key string, target *schema.Secret) {
	if v, ok := s.getEnv(key); ok {
		*target = schema.Secret(v)
	}
}

func (s *EnvSource) loadBool(key string, target *bool) {
	if v, ok := s.getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func (s *EnvSource) loadInt(key string, target *int) {
	if v, ok := s.getEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func (s *EnvSource) loadFloat(key string, target *float64) {
	if v, ok := s.getEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func (s *EnvSource) loadDuration(key string, target *time.Duration) {
	if v, ok := s.getEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
