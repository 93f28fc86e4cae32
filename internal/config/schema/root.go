// Package schema defines configuration structure types
package schema

import "time"

// Root is the top-level configuration structure
type Root struct {
	Anchor     AnchorConfig     `yaml:"anchor" json:"anchor"`
	Satellite  SatelliteConfig  `yaml:"satellite" json:"satellite"`
	Pairing    PairingConfig    `yaml:"pairing" json:"pairing"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Management ManagementConfig `yaml:"management" json:"management"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// PairingConfig contains connection key settings
type PairingConfig struct {
	KeyLength int           `yaml:"key_length" json:"key_length"`
	Charset   string        `yaml:"charset" json:"charset"`
	KeyExpiry time.Duration `yaml:"key_expiry" json:"key_expiry"` // 0 = valid until regenerated
	Policy    string        `yaml:"policy" json:"policy"`         // multi/single
}

// SessionConfig contains session supervision settings
type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	GraceWindow       time.Duration `yaml:"grace_window" json:"grace_window"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	LatencyAlpha      float64       `yaml:"latency_alpha" json:"latency_alpha"`
}

// Session policy constants
const (
	PolicyMultiSession  = "multi"
	PolicySingleSession = "single"
)
