package api

import (
	"encoding/json"
	"net/http"

	coreerrors "letmego-core/internal/core/errors"
)

// ResponseData 统一响应格式
type ResponseData struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody 错误详情
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ResponseData{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	code := coreerrors.GetCode(err)
	message := err.Error()
	var e *coreerrors.Error
	if coreerrors.As(err, &e) {
		message = e.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))
	_ = json.NewEncoder(w).Encode(ResponseData{
		Success: false,
		Error:   &ErrorBody{Code: string(code), Message: message},
	})
}

// httpStatus 错误码到 HTTP 状态码的映射
func httpStatus(code coreerrors.ErrorCode) int {
	switch code {
	case coreerrors.CodeNotFound, coreerrors.CodeNoActiveKey:
		return http.StatusNotFound
	case coreerrors.CodeInvalidParam:
		return http.StatusBadRequest
	case coreerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case coreerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case coreerrors.CodeInvalidState, coreerrors.CodeKeyMismatch, coreerrors.CodeKeyExpired, coreerrors.CodeKeyRevoked:
		return http.StatusConflict
	case coreerrors.CodeServiceClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
