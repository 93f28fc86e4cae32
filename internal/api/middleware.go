package api

import (
	"net/http"
	"time"

	coreerrors "letmego-core/internal/core/errors"
)

// statusRecorder 记录响应状态码，并保留 Hijacker 以支持 websocket 升级
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugf("API: %s %s %d - %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("API: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				respondError(w, coreerrors.Newf(coreerrors.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token, err := tokenFromRequest(r)
		if err != nil {
			respondError(w, err)
			return
		}
		if _, err := s.auth.ValidateToken(token); err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
