// Package events 配对子系统的事件定义与事件总线
package events

import (
	"time"
)

// 事件类型
const (
	TypeSessionStateChanged = "SessionStateChanged"
	TypeKeyRotated          = "KeyRotated"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Source() string
}

// Handler 事件处理器，必须快速返回
type Handler func(event Event)

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType   string    `json:"type"`
	EventTime   time.Time `json:"time"`
	EventSource string    `json:"source"`
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) Source() string       { return e.EventSource }

// SessionStateChangedEvent 会话状态变化
type SessionStateChangedEvent struct {
	BaseEvent
	SessionID  string `json:"session_id"`
	PeerName   string `json:"name"`
	DeviceType string `json:"device_type"`
	From       string `json:"from"`
	To         string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

// NewSessionStateChangedEvent 创建会话状态变化事件
func NewSessionStateChangedEvent(sessionID, peerName, deviceType, from, to, reason string, latencyMs int64) *SessionStateChangedEvent {
	return &SessionStateChangedEvent{
		BaseEvent: BaseEvent{
			EventType:   TypeSessionStateChanged,
			EventTime:   time.Now(),
			EventSource: "SessionSupervisor",
		},
		SessionID:  sessionID,
		PeerName:   peerName,
		DeviceType: deviceType,
		From:       from,
		To:         to,
		Reason:     reason,
		LatencyMs:  latencyMs,
	}
}

// KeyRotatedEvent 连接密钥轮换
type KeyRotatedEvent struct {
	BaseEvent
	Key        string    `json:"key"`
	Generation uint64    `json:"generation"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// NewKeyRotatedEvent 创建密钥轮换事件
func NewKeyRotatedEvent(key string, generation uint64, expiresAt time.Time) *KeyRotatedEvent {
	return &KeyRotatedEvent{
		BaseEvent: BaseEvent{
			EventType:   TypeKeyRotated,
			EventTime:   time.Now(),
			EventSource: "PairingRegistry",
		},
		Key:        key,
		Generation: generation,
		ExpiresAt:  expiresAt,
	}
}
