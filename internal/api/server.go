// Package api 提供 Anchor 的管理 HTTP API
//
// 路由（前缀 /api）：
//
//	GET    /health              健康检查（不鉴权）
//	GET    /key                 当前密钥
//	POST   /key                 生成密钥（已有 Open 密钥时直接返回）
//	POST   /key/regenerate      轮换密钥
//	GET    /sessions            会话列表
//	GET    /sessions/{id}       会话详情
//	DELETE /sessions/{id}       断开会话
//	GET    /stats               指标快照
//	GET    /events              websocket 事件推送
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"letmego-core/internal/config/schema"
	"letmego-core/internal/core/dispose"
	"letmego-core/internal/core/events"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/metrics"
	"letmego-core/internal/core/safe"
	"letmego-core/internal/health"
	"letmego-core/internal/pairing"
	"letmego-core/internal/pairing/keygen"
)

// PairingService 管理 API 依赖的配对服务能力
type PairingService interface {
	GenerateKey() (keygen.ConnectionKey, error)
	RegenerateKey() (keygen.ConnectionKey, error)
	CurrentKey() (keygen.ConnectionKey, error)
	ListSessions() []pairing.SessionInfo
	GetSession(id string) (pairing.SessionInfo, error)
	DisconnectSession(id string) error
	Stats() pairing.Stats
	Events() *events.Bus
	IsClosed() bool
}

// Config 管理 API 配置
type Config struct {
	Listen string
	Auth   AuthConfig
	Logger corelog.Logger
}

// ConfigFromSchema 由配置文件结构生成 API 配置
func ConfigFromSchema(mc schema.ManagementConfig) Config {
	return Config{
		Listen: mc.Listen,
		Auth: AuthConfig{
			Secret:   mc.Auth.Secret.Value(),
			Issuer:   mc.Auth.Issuer,
			TokenTTL: mc.Auth.TokenTTL,
		},
	}
}

// Server 管理 API 服务器
type Server struct {
	dispose.Dispose

	cfg     Config
	svc     PairingService
	auth    *Authenticator
	health  *health.Registry
	metrics metrics.Metrics
	router  *mux.Router
	server  *http.Server
	logger  corelog.Logger
	started time.Time

	listener net.Listener
}

// NewServer 创建管理 API 服务器，parentCtx 取消时关闭
func NewServer(parentCtx context.Context, cfg Config, svc PairingService) *Server {
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		auth:    NewAuthenticator(cfg.Auth),
		health:  health.NewRegistry(0),
		metrics: metrics.GetGlobalMetrics(),
		router:  mux.NewRouter(),
		logger:  cfg.Logger,
		started: time.Now(),
	}
	s.health.Register("pairing", health.PairingChecker(svc))
	s.registerRoutes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.SetCtx(parentCtx, s.onClose)
	return s
}

func (s *Server) onClose() error {
	s.logger.Infof("ManagementAPI: shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler 返回路由，测试中直接挂到 httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Authenticator 令牌签发与校验
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// Health 健康检查注册表，其他组件可追加检查器
func (s *Server) Health() *health.Registry {
	return s.health
}

// Start 开始监听，服务在后台运行
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Infof("ManagementAPI: listening on http://%s/api (auth %s)", ln.Addr(), s.authMode())

	safe.Go("management-api", func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("ManagementAPI: serve error: %v", err)
		}
	})
	return nil
}

// Addr 实际监听地址，Start 之前返回 nil
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) authMode() string {
	if s.auth.Enabled() {
		return "jwt"
	}
	return "disabled"
}

func (s *Server) registerRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)

	open := s.router.PathPrefix("/api").Subrouter()
	open.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/key", s.handleGetKey).Methods(http.MethodGet)
	api.HandleFunc("/key", s.handleGenerateKey).Methods(http.MethodPost)
	api.HandleFunc("/key/regenerate", s.handleRegenerateKey).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDisconnectSession).Methods(http.MethodDelete)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}
