package errors

// 预定义哨兵错误（用于 errors.Is 比较）
var (
	ErrNoActiveKey = New(CodeNoActiveKey, "no active connection key")
	ErrKeyMismatch = New(CodeKeyMismatch, "connection key does not match")
	ErrKeyExpired  = New(CodeKeyExpired, "connection key expired")
	ErrKeyRevoked  = New(CodeKeyRevoked, "connection key revoked")

	ErrHandshakeTimeout = New(CodeHandshakeTimeout, "handshake timeout")
	ErrPeerUnreachable  = New(CodePeerUnreachable, "peer unreachable")
	ErrDisconnected     = New(CodeDisconnected, "disconnected")
	ErrTransportFailure = New(CodeTransportFailure, "transport failure")

	ErrNotFound      = New(CodeNotFound, "resource not found")
	ErrInvalidParam  = New(CodeInvalidParam, "invalid parameter")
	ErrRateLimited   = New(CodeRateLimited, "rate limit exceeded")
	ErrUnauthorized  = New(CodeUnauthorized, "unauthorized")
	ErrServiceClosed = New(CodeServiceClosed, "service closed")
	ErrInternal      = New(CodeInternal, "internal error")
)

// IsPairingError 检查是否为密钥校验类错误
func IsPairingError(err error) bool {
	switch GetCode(err) {
	case CodeNoActiveKey, CodeKeyMismatch, CodeKeyExpired, CodeKeyRevoked:
		return true
	default:
		return false
	}
}

// IsCloseReason 检查错误码是否可以作为会话关闭原因
func IsCloseReason(code ErrorCode) bool {
	switch code {
	case CodeHandshakeTimeout, CodePeerUnreachable, CodeDisconnected, CodeTransportFailure,
		CodeKeyRevoked, CodeKeyExpired:
		return true
	default:
		return false
	}
}

// IsRetryable 检查错误是否可重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeHandshakeTimeout, CodePeerUnreachable, CodeTransportFailure, CodeNetworkError, CodeRateLimited:
		return true
	default:
		return false
	}
}
