//go:build !no_websocket

// WebSocket 传输层实现，使用 -tags no_websocket 可以排除此协议
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/safe"
)

func init() {
	RegisterProtocol("websocket", 10, DialWebSocket, ListenWebSocket)
}

const (
	// DefaultWebSocketPath 未指定路径时使用的默认路径
	DefaultWebSocketPath = "/letmego"

	wsBufferSize       = 32 * 1024
	wsHandshakeTimeout = 10 * time.Second
	wsCloseTimeout     = time.Second
	wsAcceptBacklog    = 16
)

// wsConn 把 WebSocket 连接包装为 net.Conn，每次 Write 对应一条二进制消息
type wsConn struct {
	conn      *websocket.Conn
	reader    io.Reader
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader != nil {
			n, err := c.reader.Read(p)
			if err == io.EOF {
				c.reader = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		mt, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		c.reader = r
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// NormalizeWebSocketURL 将各种地址格式统一为 WebSocket URL
// - http://host/path -> ws://host/path
// - https://host/path -> wss://host/path
// - ws://host -> ws://host/letmego
// - host:port -> ws://host:port/letmego
func NormalizeWebSocketURL(address string) (string, error) {
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://") ||
		strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		parsed, err := url.Parse(address)
		if err != nil {
			return "", coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid URL format")
		}
		if parsed.Host == "" {
			return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "missing host in %q", address)
		}

		scheme := strings.ToLower(parsed.Scheme)
		switch scheme {
		case "http":
			scheme = "ws"
		case "https":
			scheme = "wss"
		}

		path := parsed.Path
		if path == "" {
			path = DefaultWebSocketPath
		}
		wsURL := fmt.Sprintf("%s://%s%s", scheme, parsed.Host, path)
		if parsed.RawQuery != "" {
			wsURL += "?" + parsed.RawQuery
		}
		return wsURL, nil
	}

	if address == "" || strings.HasPrefix(address, "/") {
		return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "missing host in %q", address)
	}
	if strings.Contains(address, "/") {
		return "ws://" + address, nil
	}
	return "ws://" + address + DefaultWebSocketPath, nil
}

// SplitListenAddress 把 "host:port/path" 拆分为监听地址与路径
func SplitListenAddress(address string) (hostPort, path string) {
	if i := strings.Index(address, "/"); i >= 0 {
		return address[:i], address[i:]
	}
	return address, DefaultWebSocketPath
}

// DialWebSocket 建立 WebSocket 连接
func DialWebSocket(ctx context.Context, address string) (net.Conn, error) {
	wsURL, err := NormalizeWebSocketURL(address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket dial failed")
	}
	corelog.Debugf("WebSocket: connected to %s", wsURL)
	return newWSConn(conn), nil
}

// wsListener 通过 HTTP 服务器接收升级后的 WebSocket 连接
type wsListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	conns    chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// ListenWebSocket 在 "host:port[/path]" 上监听 WebSocket 连接
func ListenWebSocket(ctx context.Context, address string) (net.Listener, error) {
	hostPort, path := SplitListenAddress(address)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		ln:    ln,
		conns: make(chan net.Conn, wsAcceptBacklog),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: wsHandshakeTimeout,
	}

	safe.Go("websocket-listener", func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			corelog.Errorf("WebSocket: server on %s stopped: %v", ln.Addr(), err)
		}
	})

	corelog.Infof("WebSocket: listening on %s%s", ln.Addr(), path)
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		corelog.Warnf("WebSocket: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	wc := newWSConn(conn)
	select {
	case l.conns <- wc:
	case <-l.closed:
		_ = wc.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		// 已升级的连接由 Hijack 接管，不受 Close 影响
		err = l.server.Close()
		for {
			select {
			case conn := <-l.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}
