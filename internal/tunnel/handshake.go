package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
)

// BindContext ctx 取消时立即让 raw 上阻塞的读写返回，返回值用于解除绑定
func BindContext(ctx context.Context, raw net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = raw.SetDeadline(time.Unix(1, 0))
	})
}

// HandshakeError 把握手过程中的错误归类为统一错误码：
// 调用方取消为 DISCONNECTED，超时为 HANDSHAKE_TIMEOUT，其余 I/O 错误为 TRANSPORT_FAILURE
func HandshakeError(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return coreerrors.Wrap(ctxErr, coreerrors.CodeHandshakeTimeout, op)
		}
		return coreerrors.Wrap(ctxErr, coreerrors.CodeDisconnected, op)
	}
	var coded *coreerrors.Error
	if errors.As(err, &coded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return coreerrors.Wrap(err, coreerrors.CodeHandshakeTimeout, op)
	}
	return coreerrors.Wrap(err, coreerrors.CodeTransportFailure, op)
}

// ============================================================================
// Satellite 侧
// ============================================================================

// ClientConfig Satellite 握手参数
type ClientConfig struct {
	Key        string
	Name       string
	DeviceType string
	Identity   *Identity // 为空时生成临时身份
	Logger     corelog.Logger
}

// Established 握手成功后 Anchor 告知的会话信息
type Established struct {
	SessionID         string
	AnchorName        string
	HeartbeatInterval time.Duration
}

// ClientHandshake 在 raw 上完成 Satellite 侧握手
// 超时由调用方通过 ctx 或 raw 的 deadline 控制
func ClientHandshake(ctx context.Context, raw net.Conn, cfg ClientConfig) (*Conn, *Established, error) {
	stop := BindContext(ctx, raw)
	defer stop()

	identity := cfg.Identity
	if identity == nil {
		var err error
		if identity, err = NewIdentity(); err != nil {
			return nil, nil, err
		}
	}

	kp, err := newKeyPair()
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "failed to generate nonce")
	}

	helloRaw, err := encodeMessage(&Hello{
		Version:    ProtocolVersion,
		Ephemeral:  kp.public[:],
		Nonce:      nonce,
		Proof:      ComputeProof(cfg.Key, nonce, kp.public[:]),
		Name:       cfg.Name,
		DeviceType: cfg.DeviceType,
		Identity:   identity.Public(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(raw, FrameHello, helloRaw); err != nil {
		return nil, nil, HandshakeError(ctx, err, "send hello")
	}

	t, welcomeRaw, err := readFrame(raw)
	if err != nil {
		return nil, nil, HandshakeError(ctx, err, "read welcome")
	}
	switch t {
	case FrameReject:
		var rej Reject
		if err := decodeMessage(welcomeRaw, &rej); err != nil {
			return nil, nil, err
		}
		return nil, nil, rej.Error()
	case FrameWelcome:
	default:
		return nil, nil, coreerrors.Newf(coreerrors.CodeProtocolError, "expected Welcome, got %s", t)
	}

	var welcome Welcome
	if err := decodeMessage(welcomeRaw, &welcome); err != nil {
		return nil, nil, err
	}
	if welcome.Version != ProtocolVersion {
		return nil, nil, coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported protocol version %d", welcome.Version)
	}

	shared, err := kp.shared(welcome.Ephemeral)
	if err != nil {
		return nil, nil, err
	}
	transcript := transcriptHash(helloRaw, welcomeRaw)
	keys, err := deriveKeys(shared, cfg.Key, transcript)
	if err != nil {
		return nil, nil, err
	}
	send, err := newCipherState(keys.satelliteToAnchor)
	if err != nil {
		return nil, nil, err
	}
	recv, err := newCipherState(keys.anchorToSatellite)
	if err != nil {
		return nil, nil, err
	}

	confirmRaw, err := encodeMessage(&Confirm{Signature: ed25519.Sign(identity.Private, transcript)})
	if err != nil {
		return nil, nil, err
	}
	sealed, err := send.seal(FrameConfirm, confirmRaw)
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(raw, FrameConfirm, sealed); err != nil {
		return nil, nil, HandshakeError(ctx, err, "send confirm")
	}

	t, payload, err := readFrame(raw)
	if err != nil {
		return nil, nil, HandshakeError(ctx, err, "read ready")
	}
	if t != FrameReady && t != FrameReject {
		return nil, nil, coreerrors.Newf(coreerrors.CodeProtocolError, "expected Ready, got %s", t)
	}
	plaintext, err := recv.open(t, payload)
	if err != nil {
		return nil, nil, err
	}
	if t == FrameReject {
		var rej Reject
		if err := decodeMessage(plaintext, &rej); err != nil {
			return nil, nil, err
		}
		return nil, nil, rej.Error()
	}

	var ready Ready
	if err := decodeMessage(plaintext, &ready); err != nil {
		return nil, nil, err
	}
	if ready.SessionID != welcome.SessionID {
		return nil, nil, coreerrors.New(coreerrors.CodeProtocolError, "session id changed during handshake")
	}

	conn := newConn(raw, ready.SessionID, send, recv, cfg.Logger)
	return conn, &Established{
		SessionID:         ready.SessionID,
		AnchorName:        welcome.AnchorName,
		HeartbeatInterval: ready.HeartbeatInterval(),
	}, nil
}

// ============================================================================
// Anchor 侧
// ============================================================================

// ServerHandshake Anchor 侧分步握手
//
// 调用顺序：ReadHello → Welcome → ReadConfirm → Ready；
// 任意一步失败后可以调用 Reject 告知对端原因。
type ServerHandshake struct {
	raw        net.Conn
	anchorName string
	logger     corelog.Logger

	writeMu    sync.Mutex
	hello      *Hello
	helloRaw   []byte
	transcript []byte
	sessionID  string
	send       *cipherState
	recv       *cipherState
	finished   bool
}

// NewServerHandshake 创建 Anchor 侧握手
func NewServerHandshake(raw net.Conn, anchorName string, logger corelog.Logger) *ServerHandshake {
	if logger == nil {
		logger = corelog.Default()
	}
	return &ServerHandshake{raw: raw, anchorName: anchorName, logger: logger}
}

// RemoteAddr 对端地址
func (h *ServerHandshake) RemoteAddr() net.Addr { return h.raw.RemoteAddr() }

// ReadHello 读取并检查 Hello
func (h *ServerHandshake) ReadHello() (*Hello, error) {
	t, payload, err := readFrame(h.raw)
	if err != nil {
		return nil, err
	}
	if t != FrameHello {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "expected Hello, got %s", t)
	}
	var hello Hello
	if err := decodeMessage(payload, &hello); err != nil {
		return nil, err
	}
	switch {
	case hello.Version != ProtocolVersion:
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported protocol version %d", hello.Version)
	case len(hello.Ephemeral) != curve25519.PointSize:
		return nil, coreerrors.New(coreerrors.CodeProtocolError, "invalid ephemeral key")
	case len(hello.Nonce) != NonceSize:
		return nil, coreerrors.New(coreerrors.CodeProtocolError, "invalid nonce")
	case len(hello.Identity) != ed25519.PublicKeySize:
		return nil, coreerrors.New(coreerrors.CodeProtocolError, "invalid identity key")
	}
	h.hello = &hello
	h.helloRaw = payload
	return &hello, nil
}

// Welcome 接受握手并派生会话密钥，pairingKey 为通过校验的密钥值
func (h *ServerHandshake) Welcome(sessionID, pairingKey string) error {
	if h.hello == nil {
		return coreerrors.New(coreerrors.CodeInvalidState, "Welcome before Hello")
	}
	kp, err := newKeyPair()
	if err != nil {
		return err
	}
	welcomeRaw, err := encodeMessage(&Welcome{
		Version:    ProtocolVersion,
		SessionID:  sessionID,
		Ephemeral:  kp.public[:],
		AnchorName: h.anchorName,
	})
	if err != nil {
		return err
	}
	shared, err := kp.shared(h.hello.Ephemeral)
	if err != nil {
		return err
	}
	transcript := transcriptHash(h.helloRaw, welcomeRaw)
	keys, err := deriveKeys(shared, pairingKey, transcript)
	if err != nil {
		return err
	}
	send, err := newCipherState(keys.anchorToSatellite)
	if err != nil {
		return err
	}
	recv, err := newCipherState(keys.satelliteToAnchor)
	if err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := writeFrame(h.raw, FrameWelcome, welcomeRaw); err != nil {
		return err
	}
	h.sessionID = sessionID
	h.transcript = transcript
	h.send = send
	h.recv = recv
	return nil
}

// ReadConfirm 读取 Confirm 并校验设备身份签名
func (h *ServerHandshake) ReadConfirm() error {
	if h.recv == nil {
		return coreerrors.New(coreerrors.CodeInvalidState, "Confirm before Welcome")
	}
	t, payload, err := readFrame(h.raw)
	if err != nil {
		return err
	}
	if t != FrameConfirm {
		return coreerrors.Newf(coreerrors.CodeProtocolError, "expected Confirm, got %s", t)
	}
	plaintext, err := h.recv.open(t, payload)
	if err != nil {
		return err
	}
	var confirm Confirm
	if err := decodeMessage(plaintext, &confirm); err != nil {
		return err
	}
	if !ed25519.Verify(h.hello.Identity, h.transcript, confirm.Signature) {
		return coreerrors.New(coreerrors.CodeEncryptionError, "identity signature invalid")
	}
	return nil
}

// Ready 发送 Ready 并交出加密隧道
func (h *ServerHandshake) Ready(heartbeat time.Duration) (*Conn, error) {
	if h.send == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidState, "Ready before Welcome")
	}
	readyRaw, err := encodeMessage(&Ready{SessionID: h.sessionID, HeartbeatIntervalMs: heartbeat.Milliseconds()})
	if err != nil {
		return nil, err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.finished {
		return nil, coreerrors.ErrDisconnected
	}
	sealed, err := h.send.seal(FrameReady, readyRaw)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(h.raw, FrameReady, sealed); err != nil {
		return nil, err
	}
	h.finished = true
	return newConn(h.raw, h.sessionID, h.send, h.recv, h.logger), nil
}

// Reject 告知对端拒绝原因，Welcome 之后加密发送
func (h *ServerHandshake) Reject(reason error) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.rejectLocked(reason)
}

func (h *ServerHandshake) rejectLocked(reason error) error {
	if h.finished {
		return nil
	}
	h.finished = true

	rej := &Reject{Code: coreerrors.GetCode(reason), Message: "rejected"}
	var coded *coreerrors.Error
	if errors.As(reason, &coded) {
		rej.Message = coded.Message
	}
	payload, err := encodeMessage(rej)
	if err != nil {
		return err
	}
	if h.send != nil {
		if payload, err = h.send.seal(FrameReject, payload); err != nil {
			return err
		}
	}
	return writeFrame(h.raw, FrameReject, payload)
}

// CloseWithReason 尽力发送 Reject 后关闭连接，握手超时时由会话监督者调用
func (h *ServerHandshake) CloseWithReason(code coreerrors.ErrorCode) error {
	_ = h.raw.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
	h.writeMu.Lock()
	err := h.rejectLocked(coreerrors.New(code, "session closed during handshake"))
	h.writeMu.Unlock()
	if err != nil {
		h.logger.Debugf("tunnel: reject not delivered: %v", err)
	}
	return h.raw.Close()
}
