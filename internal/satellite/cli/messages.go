package cli

import (
	coreerrors "letmego-core/internal/core/errors"
)

// describeCode 错误码对应的用户提示
func describeCode(code coreerrors.ErrorCode) string {
	switch code {
	case coreerrors.CodeNoActiveKey:
		return "The Anchor has no active key. Generate one on the Anchor first."
	case coreerrors.CodeKeyMismatch:
		return "Key does not match. Check the key shown on the Anchor."
	case coreerrors.CodeKeyExpired:
		return "Key has expired. Ask for a new key."
	case coreerrors.CodeKeyRevoked:
		return "Key was replaced while connecting. Enter the new key."
	case coreerrors.CodeHandshakeTimeout:
		return "The Anchor did not answer in time."
	case coreerrors.CodePeerUnreachable:
		return "Lost contact with the Anchor."
	case coreerrors.CodeDisconnected:
		return "Disconnected."
	case coreerrors.CodeTransportFailure, coreerrors.CodeNetworkError:
		return "Network connection failed."
	case coreerrors.CodeRateLimited:
		return "Too many attempts. Wait a minute and try again."
	default:
		return string(code)
	}
}

// Describe 把错误转换为用户提示
func Describe(err error) string {
	if err == nil {
		return ""
	}
	code := coreerrors.GetCode(err)
	if code == coreerrors.CodeInternal || code == coreerrors.CodeInvalidState || code == coreerrors.CodeInvalidParam {
		return err.Error()
	}
	return describeCode(code)
}
