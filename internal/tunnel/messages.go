package tunnel

import (
	"encoding/binary"
	"encoding/json"
	"time"

	coreerrors "letmego-core/internal/core/errors"
)

// Hello Satellite 发起的握手首帧（明文）
type Hello struct {
	Version    int    `json:"version"`
	Ephemeral  []byte `json:"ephemeral"`
	Nonce      []byte `json:"nonce"`
	Proof      []byte `json:"proof"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	Identity   []byte `json:"identity"`
}

// Welcome Anchor 接受握手（明文）
type Welcome struct {
	Version    int    `json:"version"`
	SessionID  string `json:"session_id"`
	Ephemeral  []byte `json:"ephemeral"`
	AnchorName string `json:"anchor_name"`
}

// Reject Anchor 拒绝握手，Welcome 之后发送时加密
type Reject struct {
	Code    coreerrors.ErrorCode `json:"code"`
	Message string               `json:"message"`
}

// Error 转为统一错误
func (r *Reject) Error() *coreerrors.Error {
	code := r.Code
	if code == "" {
		code = coreerrors.CodeInternal
	}
	return coreerrors.New(code, r.Message)
}

// Confirm Satellite 对 transcript 的身份签名（加密）
type Confirm struct {
	Signature []byte `json:"signature"`
}

// Ready Anchor 确认会话建立（加密）
type Ready struct {
	SessionID           string `json:"session_id"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms"`
}

// HeartbeatInterval 心跳间隔
func (r *Ready) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatIntervalMs) * time.Millisecond
}

func encodeMessage(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to encode handshake message")
	}
	return data, nil
}

func decodeMessage(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeProtocolError, "malformed handshake message")
	}
	return nil
}

// heartbeat 负载：seq:8 BE + sent(unix nano):8 BE
func encodeHeartbeat(seq uint64, sent time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], seq)
	binary.BigEndian.PutUint64(buf[8:], uint64(sent.UnixNano()))
	return buf
}

func decodeHeartbeat(payload []byte) (uint64, time.Time, error) {
	if len(payload) != 16 {
		return 0, time.Time{}, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid heartbeat payload length %d", len(payload))
	}
	seq := binary.BigEndian.Uint64(payload[:8])
	sent := time.Unix(0, int64(binary.BigEndian.Uint64(payload[8:])))
	return seq, sent, nil
}
