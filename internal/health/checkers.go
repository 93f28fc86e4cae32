package health

import (
	"context"
	"fmt"
	"time"

	"letmego-core/internal/pairing"
	"letmego-core/internal/pairing/keygen"
)

// PairingSource 配对服务检查所需的能力
type PairingSource interface {
	IsClosed() bool
	CurrentKey() (keygen.ConnectionKey, error)
	ListSessions() []pairing.SessionInfo
}

// PairingChecker 服务关闭时不健康，没有可用密钥时降级
func PairingChecker(src PairingSource) Checker {
	return CheckerFunc(func(ctx context.Context) ComponentHealth {
		if src.IsClosed() {
			return ComponentHealth{Status: ComponentStatusUnhealthy, Message: "pairing service closed"}
		}
		sessions := len(src.ListSessions())
		key, err := src.CurrentKey()
		if err != nil {
			return ComponentHealth{
				Status:  ComponentStatusDegraded,
				Message: fmt.Sprintf("no active connection key, %d sessions", sessions),
			}
		}
		if key.ExpiredAt(time.Now()) {
			return ComponentHealth{
				Status:  ComponentStatusDegraded,
				Message: fmt.Sprintf("connection key expired, %d sessions", sessions),
			}
		}
		return ComponentHealth{
			Status:  ComponentStatusHealthy,
			Message: fmt.Sprintf("key generation %d, %d sessions", key.Generation, sessions),
		}
	})
}

// ListenerChecker 没有任何监听器在运行时不健康
func ListenerChecker(count func() int) Checker {
	return CheckerFunc(func(ctx context.Context) ComponentHealth {
		n := count()
		if n == 0 {
			return ComponentHealth{Status: ComponentStatusUnhealthy, Message: "no protocol listener running"}
		}
		return ComponentHealth{Status: ComponentStatusHealthy, Message: fmt.Sprintf("%d listeners", n)}
	})
}
