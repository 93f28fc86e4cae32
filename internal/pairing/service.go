// Package pairing 是 Anchor 侧配对子系统的门面
//
// Service 负责密钥的生成与轮换、接受 Satellite 的连接尝试、
// 维护会话列表，并把状态变化发布到事件总线。
package pairing

import (
	"context"
	"net"
	"sync"
	"time"

	"letmego-core/internal/core/dispose"
	coreerrors "letmego-core/internal/core/errors"
	"letmego-core/internal/core/events"
	"letmego-core/internal/core/idgen"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/metrics"
	"letmego-core/internal/pairing/guard"
	"letmego-core/internal/pairing/keygen"
	"letmego-core/internal/pairing/registry"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/tunnel"
)

// SessionInfo 会话列表项
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DeviceType  string    `json:"deviceType"`
	LatencyMs   int64     `json:"latencyMs"`
	State       string    `json:"state"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

func newSessionInfo(s session.Snapshot) SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		Name:        s.Peer.Name,
		DeviceType:  s.Peer.DeviceType,
		LatencyMs:   s.LatencyMs(),
		State:       string(s.State),
		RemoteAddr:  s.Peer.RemoteAddr,
		Fingerprint: s.Peer.Fingerprint,
		CreatedAt:   s.CreatedAt,
		LastSeen:    s.LastSeen,
	}
}

// Service Anchor 配对服务
type Service struct {
	dispose.Dispose

	cfg      Config
	gen      *keygen.Generator
	registry *registry.Registry
	bus      *events.Bus
	guard    *guard.Guard
	logger   corelog.Logger

	connsMu sync.Mutex
	conns   map[string]*tunnel.Conn
}

// NewService 创建配对服务，parentCtx 取消时服务关闭
func NewService(parentCtx context.Context, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if cfg.AnchorName == "" {
		cfg.AnchorName = "Anchor"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = session.DefaultHeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = session.DefaultHandshakeTimeout
	}

	gen, err := keygen.New(keygen.Config{
		Length:  cfg.KeyLength,
		Charset: cfg.Charset,
		Expiry:  cfg.KeyExpiry,
		Random:  cfg.Random,
	})
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(registry.Config{Generator: gen, Policy: cfg.Policy, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		gen:      gen,
		registry: reg,
		bus:      events.NewBus(parentCtx),
		guard:    cfg.Guard,
		logger:   cfg.Logger,
		conns:    make(map[string]*tunnel.Conn),
	}
	s.SetCtx(parentCtx, s.onClose)
	return s, nil
}

func (s *Service) onClose() error {
	for _, sup := range s.registry.Sessions() {
		sup.Disconnect()
	}
	return s.bus.Close()
}

// Stats 配对子系统概况
type Stats struct {
	KeyLength    int    `json:"key_length"`
	KeySpace     string `json:"key_space"`
	Sessions     int    `json:"sessions"`
	TrackedHosts int    `json:"tracked_hosts"`
	BannedHosts  int    `json:"banned_hosts"`
}

// Stats 返回密钥空间、会话数与防护状态
func (s *Service) Stats() Stats {
	return Stats{
		KeyLength:    s.gen.Length(),
		KeySpace:     s.gen.Entropy().String(),
		Sessions:     s.registry.Len(),
		TrackedHosts: s.guard.Tracked(),
		BannedHosts:  s.guard.Banned(),
	}
}

// Events 事件总线
func (s *Service) Events() *events.Bus { return s.bus }

// Subscribe 订阅全部配对事件，返回取消函数
func (s *Service) Subscribe(handler events.Handler) (func(), error) {
	return s.bus.Subscribe("", handler)
}

// GenerateKey 返回当前 Open 的密钥，没有时生成新密钥
func (s *Service) GenerateKey() (keygen.ConnectionKey, error) {
	if s.IsClosed() {
		return keygen.ConnectionKey{}, coreerrors.ErrServiceClosed
	}
	if key, ok := s.registry.CurrentKey(); ok && key.Status == keygen.StatusOpen {
		return key, nil
	}
	return s.RegenerateKey()
}

// RegenerateKey 吊销当前密钥并生成新密钥，已建立的会话不受影响
func (s *Service) RegenerateKey() (keygen.ConnectionKey, error) {
	if s.IsClosed() {
		return keygen.ConnectionKey{}, coreerrors.ErrServiceClosed
	}
	key, err := s.registry.OpenNewKey()
	if err != nil {
		return keygen.ConnectionKey{}, err
	}
	metrics.KeyRotated()
	s.bus.Publish(events.NewKeyRotatedEvent(key.Value, key.Generation, key.ExpiresAt))
	return key, nil
}

// CurrentKey 当前密钥，从未生成时返回 NO_ACTIVE_KEY
func (s *Service) CurrentKey() (keygen.ConnectionKey, error) {
	key, ok := s.registry.CurrentKey()
	if !ok {
		return keygen.ConnectionKey{}, coreerrors.ErrNoActiveKey
	}
	return key, nil
}

// ListSessions 返回全部未关闭的会话
func (s *Service) ListSessions() []SessionInfo {
	snaps := s.registry.List()
	out := make([]SessionInfo, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, newSessionInfo(snap))
	}
	return out
}

// GetSession 查询单个会话
func (s *Service) GetSession(id string) (SessionInfo, error) {
	sup, ok := s.registry.Get(id)
	if !ok {
		return SessionInfo{}, coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", id)
	}
	return newSessionInfo(sup.Snapshot()), nil
}

// DisconnectSession 断开会话，返回时会话已从列表中移除
func (s *Service) DisconnectSession(id string) error {
	sup, ok := s.registry.Get(id)
	if !ok {
		return coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", id)
	}
	sup.Disconnect()
	return nil
}

// Send 通过会话隧道向 Satellite 发送数据
func (s *Service) Send(id string, data []byte) error {
	conn, err := s.liveConn(id)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// Receive 返回会话的数据接收通道，会话关闭后通道被关闭
func (s *Service) Receive(id string) (<-chan []byte, error) {
	conn, err := s.liveConn(id)
	if err != nil {
		return nil, err
	}
	return conn.Receive(), nil
}

func (s *Service) liveConn(id string) (*tunnel.Conn, error) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", id)
	}
	return conn, nil
}

// setConn conn 为 nil 时移除
func (s *Service) setConn(id string, conn *tunnel.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if conn == nil {
		delete(s.conns, id)
		return
	}
	s.conns[id] = conn
}

// Accept 在 raw 上完成 Anchor 侧握手，成功时会话已 Established
// raw 的所有权转移给 Accept：失败时连接已被关闭
func (s *Service) Accept(ctx context.Context, raw net.Conn) (SessionInfo, error) {
	if s.IsClosed() {
		_ = raw.Close()
		return SessionInfo{}, coreerrors.ErrServiceClosed
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	stopService := context.AfterFunc(s.Ctx(), cancel)
	defer stopService()
	stopBind := tunnel.BindContext(hctx, raw)
	defer stopBind()

	remote := ""
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	host := guard.HostOf(raw.RemoteAddr())
	logger := s.logger.WithField("remote", remote)
	hs := tunnel.NewServerHandshake(raw, s.cfg.AnchorName, s.logger)

	hello, err := hs.ReadHello()
	if err != nil {
		_ = raw.Close()
		return SessionInfo{}, s.fail(logger, tunnel.HandshakeError(hctx, err, "read hello"))
	}

	if err := s.guard.Allow(host); err != nil {
		return SessionInfo{}, s.reject(logger, hs, raw, err)
	}

	key, err := s.registry.ValidateProof(hello.Nonce, hello.Ephemeral, hello.Proof)
	if err != nil {
		if coreerrors.IsCode(err, coreerrors.CodeKeyMismatch) {
			s.guard.RecordFailure(host)
		}
		return SessionInfo{}, s.reject(logger, hs, raw, err)
	}

	sup := session.New(session.Config{
		ID:            idgen.NewSessionID(),
		KeyGeneration: key.Generation,
		Peer: session.Peer{
			Name:        hello.Name,
			DeviceType:  hello.DeviceType,
			RemoteAddr:  remote,
			Fingerprint: tunnel.Fingerprint(hello.Identity),
		},
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		GraceWindow:       s.cfg.GraceWindow,
		HandshakeTimeout:  s.cfg.HandshakeTimeout,
		LatencyAlpha:      s.cfg.LatencyAlpha,
		Logger:            s.logger,
	})
	sup.OnStateChange(s.onSessionChange)
	if err := s.registry.Register(sup); err != nil {
		return SessionInfo{}, s.reject(logger, hs, raw, err)
	}
	snap := sup.Snapshot()
	s.bus.Publish(events.NewSessionStateChangedEvent(snap.ID, snap.Peer.Name, snap.Peer.DeviceType,
		"", string(session.StatePending), "", 0))

	if err := sup.Begin(hs); err != nil {
		return SessionInfo{}, s.abort(hctx, logger, sup, err, "begin")
	}
	if err := hs.Welcome(sup.ID(), key.Value); err != nil {
		return SessionInfo{}, s.abort(hctx, logger, sup, err, "send welcome")
	}
	if err := hs.ReadConfirm(); err != nil {
		return SessionInfo{}, s.abort(hctx, logger, sup, err, "read confirm")
	}
	if err := s.registry.Commit(sup.ID()); err != nil {
		return SessionInfo{}, s.abort(hctx, logger, sup, err, "commit")
	}
	conn, err := hs.Ready(s.cfg.HeartbeatInterval)
	if err != nil {
		return SessionInfo{}, s.abort(hctx, logger, sup, err, "send ready")
	}
	s.setConn(sup.ID(), conn)
	if err := sup.Establish(conn); err != nil {
		s.setConn(sup.ID(), nil)
		_ = conn.CloseWithReason(coreerrors.GetCode(err))
		return SessionInfo{}, s.fail(logger, err)
	}
	conn.Start(tunnel.Hooks{OnHeartbeatAck: sup.HeartbeatAck})

	s.guard.Forgive(host)
	metrics.HandshakeSucceeded()
	logger.Infof("pairing: session %s established with %s (%s)", sup.ID(), hello.Name, hello.DeviceType)
	return newSessionInfo(sup.Snapshot()), nil
}

// reject 会话创建之前的失败：告知对端并关闭连接
func (s *Service) reject(logger corelog.Logger, hs *tunnel.ServerHandshake, raw net.Conn, err error) error {
	_ = raw.SetWriteDeadline(time.Now().Add(time.Second))
	if rerr := hs.Reject(err); rerr != nil {
		logger.Debugf("pairing: reject not delivered: %v", rerr)
	}
	_ = raw.Close()
	return s.fail(logger, err)
}

// abort 会话创建之后的失败：以对应原因关闭会话
// 会话可能已被握手计时器关闭，此时以会话的关闭原因为准
func (s *Service) abort(ctx context.Context, logger corelog.Logger, sup *session.Supervisor, err error, op string) error {
	herr := tunnel.HandshakeError(ctx, err, op)
	code := coreerrors.GetCode(herr)
	if !coreerrors.IsCloseReason(code) {
		code = coreerrors.CodeTransportFailure
	}
	if !sup.Close(code, herr) {
		if closed := sup.Err(); closed != nil {
			return s.fail(logger, closed)
		}
	}
	return s.fail(logger, herr)
}

func (s *Service) fail(logger corelog.Logger, err error) error {
	metrics.HandshakeFailed(string(coreerrors.GetCode(err)))
	logger.Warnf("pairing: connection attempt failed: %v", err)
	return err
}

// onSessionChange 会话状态观察者：Closed 时立即移出注册表
func (s *Service) onSessionChange(c session.Change) {
	switch {
	case c.To == session.StateEstablished && c.From == session.StateAuthenticating:
		metrics.SessionOpened()
	case c.To == session.StateClosed:
		s.registry.Deregister(c.Snapshot.ID)
		s.setConn(c.Snapshot.ID, nil)
		if c.From.IsLive() {
			metrics.SessionClosed(string(c.Snapshot.CloseReason))
		}
	}

	snap := c.Snapshot
	s.bus.Publish(events.NewSessionStateChangedEvent(snap.ID, snap.Peer.Name, snap.Peer.DeviceType,
		string(c.From), string(c.To), string(snap.CloseReason), snap.LatencyMs()))
}
