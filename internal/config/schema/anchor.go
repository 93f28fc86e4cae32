package schema

import "time"

// AnchorConfig contains host-side settings
type AnchorConfig struct {
	Name      string          `yaml:"name" json:"name"`
	Protocols ProtocolsConfig `yaml:"protocols" json:"protocols"`
	Guard     GuardConfig     `yaml:"guard" json:"guard"`
}

// ProtocolsConfig contains all listener configurations
type ProtocolsConfig struct {
	TCP       ListenerConfig  `yaml:"tcp" json:"tcp"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	QUIC      ListenerConfig  `yaml:"quic" json:"quic"`
	KCP       ListenerConfig  `yaml:"kcp" json:"kcp"`
}

// ListenerConfig contains a single protocol listener
type ListenerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// WebSocketConfig contains WebSocket listener settings
type WebSocketConfig struct {
	ListenerConfig `yaml:",inline" json:",inline"`
	Path           string `yaml:"path" json:"path"`
}

// GuardConfig limits pairing attempts per remote address
type GuardConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	AttemptsPerMinute int  `yaml:"attempts_per_minute" json:"attempts_per_minute"`
	Burst             int  `yaml:"burst" json:"burst"`
	MaxTrackedPeers   int  `yaml:"max_tracked_peers" json:"max_tracked_peers"`

	// Lockout: MaxFailures wrong keys within FailureWindow ban the host for BanDuration
	MaxFailures   int           `yaml:"max_failures" json:"max_failures"`
	FailureWindow time.Duration `yaml:"failure_window" json:"failure_window"`
	BanDuration   time.Duration `yaml:"ban_duration" json:"ban_duration"`
}

// Protocol name constants
const (
	ProtocolTCP       = "tcp"
	ProtocolWebSocket = "websocket"
	ProtocolQUIC      = "quic"
	ProtocolKCP       = "kcp"
)
