package keygen

import "time"

// Status 连接密钥状态
type Status string

const (
	StatusOpen     Status = "Open"
	StatusConsumed Status = "Consumed"
	StatusExpired  Status = "Expired"
	StatusRevoked  Status = "Revoked"
)

// ConnectionKey Anchor 展示给用户的配对密钥
type ConnectionKey struct {
	Value      string    `json:"key"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"` // 零值表示永不过期
	Status     Status    `json:"status"`
	Generation uint64    `json:"generation"`
}

// ExpiredAt 判断密钥在 now 时刻是否已过期
func (k ConnectionKey) ExpiredAt(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// IsZero 是否为空密钥
func (k ConnectionKey) IsZero() bool {
	return k.Value == ""
}
