package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"letmego-core/internal/core/safe"
	"letmego-core/internal/pairing"
)

const (
	eventBuffer     = 64
	eventWriteWait  = 5 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

// snapshotMessage 连接建立后首先推送的会话列表
type snapshotMessage struct {
	Type     string                `json:"type"`
	Sessions []pairing.SessionInfo `json:"sessions"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents 把配对事件以 JSON 文本消息推送给 websocket 客户端
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(s.Ctx())
	defer cancel()

	// 先订阅再取快照，避免两者之间的事件丢失
	ch, err := s.svc.Events().Forward(ctx, "", eventBuffer)
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("ManagementAPI: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessions := s.svc.ListSessions()
	if err := s.writeJSON(conn, snapshotMessage{Type: "snapshot", Sessions: sessions}); err != nil {
		return
	}

	// 读循环只处理控制帧，对端关闭时取消推送
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	safe.Go("api-events-reader", func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	})

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(eventWriteWait))
			return
		case ev := <-ch:
			if err := s.writeJSON(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debugf("ManagementAPI: event push stopped: %v", err)
		return err
	}
	return nil
}
