// Package tunnel 实现 Anchor 与 Satellite 之间的加密隧道
//
// 握手阶段交换 X25519 临时公钥并以配对密钥的 HMAC 证明身份，
// 之后的帧均由 ChaCha20-Poly1305 加密，帧类型字节作为附加数据参与认证。
package tunnel

import (
	"encoding/binary"
	"io"

	coreerrors "letmego-core/internal/core/errors"
)

// FrameType 帧类型
type FrameType byte

const (
	// 握手帧
	FrameHello   FrameType = 0x01
	FrameWelcome FrameType = 0x02
	FrameReject  FrameType = 0x03
	FrameConfirm FrameType = 0x04
	FrameReady   FrameType = 0x05

	// 会话帧
	FrameData         FrameType = 0x10
	FrameHeartbeat    FrameType = 0x11
	FrameHeartbeatAck FrameType = 0x12
	FrameClose        FrameType = 0x13
)

const (
	// MaxPayload 单帧最大明文长度
	MaxPayload = 64 * 1024

	headerSize = 5
	// 密文比明文多出的认证标签长度
	maxFrameSize = MaxPayload + 16
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "Hello"
	case FrameWelcome:
		return "Welcome"
	case FrameReject:
		return "Reject"
	case FrameConfirm:
		return "Confirm"
	case FrameReady:
		return "Ready"
	case FrameData:
		return "Data"
	case FrameHeartbeat:
		return "Heartbeat"
	case FrameHeartbeatAck:
		return "HeartbeatAck"
	case FrameClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// writeFrame 写出 [type:1][length:4 BE][payload]
func writeFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > maxFrameSize {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "frame too large: %d bytes", len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame 读取一帧，长度超限返回 PROTOCOL_ERROR
func readFrame(r io.Reader) (FrameType, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxFrameSize {
		return 0, nil, coreerrors.Newf(coreerrors.CodeProtocolError, "frame length %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return FrameType(header[0]), payload, nil
}
