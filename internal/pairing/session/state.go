package session

import (
	"time"

	coreerrors "letmego-core/internal/core/errors"
)

// State 会话状态
type State string

const (
	StatePending        State = "Pending"
	StateAuthenticating State = "Authenticating"
	StateEstablished    State = "Established"
	StateDegraded       State = "Degraded"
	StateClosed         State = "Closed"
)

// IsTerminal 是否为终态
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// IsLive 会话已建立（含降级）
func (s State) IsLive() bool {
	return s == StateEstablished || s == StateDegraded
}

// 合法的状态迁移，Closed 可由任意非终态进入
var transitions = map[State][]State{
	StatePending:        {StateAuthenticating},
	StateAuthenticating: {StateEstablished},
	StateEstablished:    {StateDegraded},
	StateDegraded:       {StateEstablished},
}

func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Peer 对端描述
type Peer struct {
	Name        string `json:"name"`
	DeviceType  string `json:"device_type"`
	RemoteAddr  string `json:"remote_addr"`
	Fingerprint string `json:"fingerprint"`
}

// Snapshot 会话的只读副本
type Snapshot struct {
	ID            string               `json:"id"`
	Peer          Peer                 `json:"peer"`
	State         State                `json:"state"`
	CloseReason   coreerrors.ErrorCode `json:"close_reason,omitempty"`
	Latency       time.Duration        `json:"-"`
	LastSeen      time.Time            `json:"last_seen"`
	CreatedAt     time.Time            `json:"created_at"`
	KeyGeneration uint64               `json:"key_generation"`
}

// LatencyMs 延迟毫秒数
func (s Snapshot) LatencyMs() int64 {
	return s.Latency.Milliseconds()
}

// Change 状态变化通知
type Change struct {
	From     State
	To       State
	Snapshot Snapshot
}
