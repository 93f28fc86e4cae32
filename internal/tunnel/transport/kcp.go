//go:build !no_kcp

// KCP 传输层实现，使用 -tags no_kcp 可以排除此协议
package transport

import (
	"context"
	"net"

	"github.com/xtaci/kcp-go/v5"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
)

func init() {
	RegisterProtocol("kcp", 40, DialKCP, ListenKCP) // 优先级 40（最低）
}

// KCP 参数（拨号与监听两侧保持一致）。链路加密由隧道负责，这里不启用 KCP 自带加密与 FEC
const (
	KCPDataShards       = 0
	KCPParityShards     = 0
	KCPSndWnd           = 1024
	KCPRcvWnd           = 1024
	KCPNoDelay          = 1
	KCPInterval         = 10
	KCPResend           = 2
	KCPNC               = 1
	KCPMTU              = 1400
	KCPStreamBufferSize = 4 * 1024 * 1024
)

func configureKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetNoDelay(KCPNoDelay, KCPInterval, KCPResend, KCPNC)
	conn.SetWindowSize(KCPSndWnd, KCPRcvWnd)
	conn.SetMtu(KCPMTU)
	_ = conn.SetReadBuffer(KCPStreamBufferSize)
	_ = conn.SetWriteBuffer(KCPStreamBufferSize)
	conn.SetACKNoDelay(true)
}

// DialKCP 建立 KCP 连接。KCP 基于 UDP 无连接，拨号本身不会阻塞
func DialKCP(ctx context.Context, address string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := kcp.DialWithOptions(address, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "failed to dial KCP")
	}
	configureKCP(conn)
	corelog.Debugf("KCP: session opened to %s", address)
	return conn, nil
}

type kcpListener struct {
	*kcp.Listener
}

// ListenKCP 在 address 上监听 KCP 会话
func ListenKCP(_ context.Context, address string) (net.Listener, error) {
	ln, err := kcp.ListenWithOptions(address, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return nil, err
	}
	corelog.Infof("KCP: listening on %s", ln.Addr())
	return &kcpListener{Listener: ln}, nil
}

func (l *kcpListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	configureKCP(conn)
	return conn, nil
}
