package pairing

import (
	"io"
	"time"

	"letmego-core/internal/config/schema"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing/guard"
	"letmego-core/internal/pairing/registry"
)

// Config Anchor 配对服务配置
type Config struct {
	AnchorName string

	KeyLength int
	Charset   string
	KeyExpiry time.Duration
	Policy    registry.Policy
	Random    io.Reader // 默认 crypto/rand

	HeartbeatInterval time.Duration
	GraceWindow       time.Duration
	HandshakeTimeout  time.Duration
	LatencyAlpha      float64

	Guard  *guard.Guard // 为空时不限流
	Logger corelog.Logger
}

// ConfigFromSchema 由配置文件结构生成服务配置
func ConfigFromSchema(root *schema.Root) Config {
	return Config{
		AnchorName:        root.Anchor.Name,
		KeyLength:         root.Pairing.KeyLength,
		Charset:           root.Pairing.Charset,
		KeyExpiry:         root.Pairing.KeyExpiry,
		Policy:            registry.Policy(root.Pairing.Policy),
		HeartbeatInterval: root.Session.HeartbeatInterval,
		GraceWindow:       root.Session.GraceWindow,
		HandshakeTimeout:  root.Session.HandshakeTimeout,
		LatencyAlpha:      root.Session.LatencyAlpha,
	}
}
