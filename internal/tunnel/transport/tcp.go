package transport

import (
	"context"
	"net"
	"time"

	corelog "letmego-core/internal/core/log"
)

func init() {
	RegisterProtocol("tcp", 0, DialTCP, ListenTCP) // 默认协议
}

const tcpKeepAlive = 30 * time.Second

// DialTCP 建立 TCP 连接，超时由 ctx 控制
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{KeepAlive: tcpKeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	corelog.Debugf("TCP: connected to %s", address)
	return conn, nil
}

// ListenTCP 在 address 上监听 TCP 连接
func ListenTCP(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: tcpKeepAlive}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	corelog.Infof("TCP: listening on %s", ln.Addr())
	return ln, nil
}
