// Package satellite 是 Satellite 侧的配对客户端
//
// Client 拨号到 Anchor、提交用户输入的连接密钥、完成隧道握手，
// 之后由会话监督器维护心跳与延迟，直到断开或对端失联。
package satellite

import (
	"context"
	"net"
	"sync"
	"time"

	"letmego-core/internal/config/schema"
	"letmego-core/internal/core/dispose"
	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/tunnel"
	"letmego-core/internal/tunnel/transport"
)

// StateIdle 尚未发起连接
const StateIdle session.State = "Idle"

const DefaultConnectTimeout = 10 * time.Second

// Config 客户端配置
type Config struct {
	AnchorAddress string
	Protocol      string // 默认 tcp
	Name          string
	DeviceType    string // laptop/phone/desktop

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	GraceWindow      time.Duration
	LatencyAlpha     float64

	Identity *tunnel.Identity // 为空时生成进程内身份
	Dial     transport.Dialer // 为空时按 Protocol 从注册表拨号
	Logger   corelog.Logger
}

// ConfigFromSchema 由配置文件结构生成客户端配置
func ConfigFromSchema(root *schema.Root) Config {
	return Config{
		AnchorAddress:    root.Satellite.AnchorAddress,
		Protocol:         root.Satellite.Protocol,
		Name:             root.Satellite.Name,
		DeviceType:       root.Satellite.DeviceType,
		ConnectTimeout:   root.Satellite.ConnectTimeout,
		HandshakeTimeout: root.Session.HandshakeTimeout,
		GraceWindow:      root.Session.GraceWindow,
		LatencyAlpha:     root.Session.LatencyAlpha,
	}
}

// Status 客户端连接状态
type Status struct {
	State       session.State        `json:"state"`
	SessionID   string               `json:"sessionId,omitempty"`
	AnchorName  string               `json:"anchorName,omitempty"`
	LatencyMs   int64                `json:"latencyMs"`
	CloseReason coreerrors.ErrorCode `json:"closeReason,omitempty"`
	Fingerprint string               `json:"fingerprint"`
}

// Client Satellite 配对客户端，同一时间最多持有一个会话
type Client struct {
	dispose.Dispose

	cfg      Config
	identity *tunnel.Identity
	logger   corelog.Logger

	mu         sync.Mutex
	attempting bool
	sup        *session.Supervisor
	conn       *tunnel.Conn
	observers  []func(session.Change)
}

// New 创建客户端，parentCtx 取消时断开当前会话
func New(parentCtx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	if cfg.Protocol == "" {
		cfg.Protocol = schema.ProtocolTCP
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = session.DefaultHandshakeTimeout
	}
	if cfg.Dial == nil {
		if !transport.IsProtocolAvailable(cfg.Protocol) {
			return nil, coreerrors.Newf(coreerrors.CodeConfigError, "protocol %q is not available", cfg.Protocol)
		}
		protocol := cfg.Protocol
		cfg.Dial = func(ctx context.Context, address string) (net.Conn, error) {
			return transport.Dial(ctx, protocol, address)
		}
	}

	identity := cfg.Identity
	if identity == nil {
		var err error
		if identity, err = tunnel.NewIdentity(); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:      cfg,
		identity: identity,
		logger:   cfg.Logger,
	}
	c.SetCtx(parentCtx, c.onClose)
	return c, nil
}

func (c *Client) onClose() error {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup != nil {
		sup.Disconnect()
	}
	return nil
}

// Fingerprint 本机身份指纹，Anchor 会话列表中显示同样的值
func (c *Client) Fingerprint() string {
	return c.identity.Fingerprint()
}

// OnStateChange 注册会话状态观察者，对之后建立的会话生效
func (c *Client) OnStateChange(fn func(session.Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// AttemptConnection 用 key 连接 Anchor，成功返回时会话已 Established。
// key 按原样发送，输入规范化由调用方负责
func (c *Client) AttemptConnection(ctx context.Context, key string) (Status, error) {
	if c.IsClosed() {
		return c.Status(), coreerrors.ErrServiceClosed
	}
	if key == "" {
		return c.Status(), coreerrors.New(coreerrors.CodeInvalidParam, "connection key is empty")
	}
	if c.cfg.AnchorAddress == "" {
		return c.Status(), coreerrors.New(coreerrors.CodeInvalidParam, "anchor address is empty")
	}

	c.mu.Lock()
	if c.attempting {
		c.mu.Unlock()
		return c.Status(), coreerrors.New(coreerrors.CodeInvalidState, "connection attempt already in progress")
	}
	if c.sup != nil && !c.sup.State().IsTerminal() {
		c.mu.Unlock()
		return c.Status(), coreerrors.New(coreerrors.CodeInvalidState, "already connected, disconnect first")
	}
	c.attempting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.attempting = false
		c.mu.Unlock()
	}()

	logger := c.logger.WithField("anchor", c.cfg.AnchorAddress)

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopClient := context.AfterFunc(c.Ctx(), cancel)
	defer stopClient()

	dctx, dcancel := context.WithTimeout(actx, c.cfg.ConnectTimeout)
	raw, err := c.cfg.Dial(dctx, c.cfg.AnchorAddress)
	dcancel()
	if err != nil {
		if dctx.Err() != nil {
			err = tunnel.HandshakeError(dctx, err, "dial")
		}
		logger.Warnf("satellite: dial failed: %v", err)
		return c.Status(), err
	}

	hctx, hcancel := context.WithTimeout(actx, c.cfg.HandshakeTimeout)
	defer hcancel()
	conn, est, err := tunnel.ClientHandshake(hctx, raw, tunnel.ClientConfig{
		Key:        key,
		Name:       c.cfg.Name,
		DeviceType: c.cfg.DeviceType,
		Identity:   c.identity,
		Logger:     c.logger,
	})
	if err != nil {
		_ = raw.Close()
		logger.Warnf("satellite: connection attempt failed: %v", err)
		return c.Status(), err
	}

	remote := ""
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	sup := session.New(session.Config{
		ID: est.SessionID,
		Peer: session.Peer{
			Name:       est.AnchorName,
			DeviceType: "anchor",
			RemoteAddr: remote,
		},
		HeartbeatInterval: est.HeartbeatInterval,
		GraceWindow:       c.cfg.GraceWindow,
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		LatencyAlpha:      c.cfg.LatencyAlpha,
		Logger:            c.logger,
	})

	c.mu.Lock()
	for _, fn := range c.observers {
		sup.OnStateChange(fn)
	}
	c.sup = sup
	c.conn = conn
	c.mu.Unlock()
	sup.OnStateChange(c.logChange)

	if err := sup.Begin(conn); err != nil {
		_ = conn.CloseWithReason(coreerrors.CodeTransportFailure)
		return c.Status(), err
	}
	if err := sup.Establish(conn); err != nil {
		return c.Status(), err
	}
	conn.Start(tunnel.Hooks{OnHeartbeatAck: sup.HeartbeatAck})

	logger.Infof("satellite: session %s established with %s", est.SessionID, est.AnchorName)
	return c.Status(), nil
}

func (c *Client) logChange(ch session.Change) {
	if ch.To == session.StateClosed {
		c.logger.Infof("satellite: session %s closed: %s", ch.Snapshot.ID, ch.Snapshot.CloseReason)
		return
	}
	c.logger.Debugf("satellite: session %s %s -> %s", ch.Snapshot.ID, ch.From, ch.To)
}

// Disconnect 断开当前会话并等待心跳循环退出，没有会话时直接返回
func (c *Client) Disconnect() error {
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Disconnect()
	return nil
}

// Status 当前连接状态
func (c *Client) Status() Status {
	c.mu.Lock()
	sup := c.sup
	attempting := c.attempting
	c.mu.Unlock()

	st := Status{State: StateIdle, Fingerprint: c.identity.Fingerprint()}
	if attempting && (sup == nil || sup.State().IsTerminal()) {
		st.State = session.StateAuthenticating
		return st
	}
	if sup == nil {
		return st
	}

	snap := sup.Snapshot()
	st.State = snap.State
	st.SessionID = snap.ID
	st.AnchorName = snap.Peer.Name
	st.LatencyMs = snap.LatencyMs()
	st.CloseReason = snap.CloseReason
	return st
}

// Send 通过已建立的隧道发送数据
func (c *Client) Send(data []byte) error {
	conn, err := c.liveConn()
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// Receive 返回当前会话的接收通道，没有会话时返回已关闭的通道
func (c *Client) Receive() <-chan []byte {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return conn.Receive()
}

func (c *Client) liveConn() (*tunnel.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup == nil || !c.sup.State().IsLive() {
		return nil, coreerrors.New(coreerrors.CodeInvalidState, "not connected")
	}
	return c.conn, nil
}
