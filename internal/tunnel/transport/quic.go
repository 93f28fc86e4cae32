//go:build !no_quic

// QUIC 传输层实现，使用 -tags no_quic 可以排除此协议
package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/safe"
)

func init() {
	RegisterProtocol("quic", 20, DialQUIC, ListenQUIC)
}

const (
	quicALPN          = "letmego-quic"
	quicIdleTimeout   = 30 * time.Second
	quicKeepAlive     = 10 * time.Second
	quicStreamTimeout = 10 * time.Second
	quicCloseLinger   = 250 * time.Millisecond
	quicAcceptBacklog = 16
)

// quicStreamConn 把单条 QUIC 流包装为 net.Conn，一个连接只承载一条流
type quicStreamConn struct {
	stream    *quic.Stream
	conn      *quic.Conn
	closeOnce sync.Once
}

func (c *quicStreamConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicStreamConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

// Close 先发送 FIN，稍后再关闭整个 QUIC 连接，以便对端读到最后的数据
func (c *quicStreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.Close()
		conn := c.conn
		time.AfterFunc(quicCloseLinger, func() {
			_ = conn.CloseWithError(0, "normal closure")
		})
	})
	return err
}

func (c *quicStreamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicStreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicStreamConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *quicStreamConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicStreamConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicKeepAlive,
	}
}

// DialQUIC 建立 QUIC 连接并打开一条双向流。
// 证书不做校验：身份与密钥由隧道握手负责
func DialQUIC(ctx context.Context, address string) (net.Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}

	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConfig())
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "quic dial failed")
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "quic open stream failed")
	}

	corelog.Debugf("QUIC: connected to %s", address)
	return &quicStreamConn{stream: stream, conn: conn}, nil
}

// generateTLSConfig 生成自签名证书（QUIC 强制要求 TLS）
func generateTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "generate quic key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "generate serial")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "letmego-anchor"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "create quic certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{quicALPN},
	}, nil
}

// quicListener 接受 QUIC 连接，并把每个连接的第一条流作为 net.Conn 交付
type quicListener struct {
	ln     *quic.Listener
	conns  chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// ListenQUIC 在 address 上监听 QUIC 连接
func ListenQUIC(ctx context.Context, address string) (net.Listener, error) {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(address, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &quicListener{
		ln:     ln,
		conns:  make(chan net.Conn, quicAcceptBacklog),
		ctx:    lctx,
		cancel: cancel,
	}
	safe.Go("quic-accept", l.acceptLoop)

	corelog.Infof("QUIC: listening on %s", ln.Addr())
	return l, nil
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				corelog.Warnf("QUIC: accept failed: %v", err)
			}
			_ = l.Close()
			return
		}
		safe.Go("quic-stream-accept", func() { l.acceptStream(conn) })
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(l.ctx, quicStreamTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		corelog.Debugf("QUIC: no stream from %s: %v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(0, "no stream")
		return
	}

	sc := &quicStreamConn{stream: stream, conn: conn}
	select {
	case l.conns <- sc:
	case <-l.ctx.Done():
		_ = sc.Close()
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}
