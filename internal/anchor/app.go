// Package anchor 组装 Anchor 进程：配对服务、各协议监听器与管理 API
package anchor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"letmego-core/internal/api"
	"letmego-core/internal/config/schema"
	"letmego-core/internal/core/dispose"
	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/safe"
	"letmego-core/internal/health"
	"letmego-core/internal/pairing"
	"letmego-core/internal/pairing/guard"
	"letmego-core/internal/tunnel/transport"
)

// ListenerInfo 已启动的协议监听器
type ListenerInfo struct {
	Protocol string
	Address  string // 实际监听地址，websocket 附带路径
}

type listener struct {
	protocol string
	path     string
	ln       net.Listener
}

func (l *listener) info() ListenerInfo {
	return ListenerInfo{Protocol: l.protocol, Address: l.ln.Addr().String() + l.path}
}

// App Anchor 应用
type App struct {
	dispose.Dispose

	root    *schema.Root
	service *pairing.Service
	api     *api.Server
	logger  corelog.Logger

	mu        sync.Mutex
	listeners []*listener
	group     *errgroup.Group
}

// New 按配置创建 Anchor，parentCtx 取消时全部组件关闭
func New(parentCtx context.Context, root *schema.Root, logger corelog.Logger) (*App, error) {
	if root == nil {
		return nil, coreerrors.New(coreerrors.CodeConfigError, "anchor configuration is required")
	}
	if logger == nil {
		logger = corelog.Default()
	}

	a := &App{root: root, logger: logger}
	a.SetCtx(parentCtx, a.onClose)

	g, err := guard.New(guard.Config{
		Enabled:           root.Anchor.Guard.Enabled,
		AttemptsPerMinute: root.Anchor.Guard.AttemptsPerMinute,
		Burst:             root.Anchor.Guard.Burst,
		MaxTrackedPeers:   root.Anchor.Guard.MaxTrackedPeers,
		MaxFailures:       root.Anchor.Guard.MaxFailures,
		FailureWindow:     root.Anchor.Guard.FailureWindow,
		BanDuration:       root.Anchor.Guard.BanDuration,
		Logger:            logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	cfg := pairing.ConfigFromSchema(root)
	cfg.Guard = g
	cfg.Logger = logger
	svc, err := pairing.NewService(a.Ctx(), cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.service = svc

	if root.Management.Enabled {
		acfg := api.ConfigFromSchema(root.Management)
		acfg.Logger = logger
		a.api = api.NewServer(a.Ctx(), acfg, svc)
		a.api.Health().Register("listeners", health.ListenerChecker(func() int { return len(a.Listeners()) }))
	}
	return a, nil
}

func (a *App) onClose() error {
	a.closeListeners()

	var errs []error
	if a.api != nil {
		errs = append(errs, a.api.Close())
	}
	if a.service != nil {
		errs = append(errs, a.service.Close())
	}

	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group != nil {
		errs = append(errs, group.Wait())
	}
	a.logger.Infof("Anchor: stopped")
	return errors.Join(errs...)
}

// Service 配对服务
func (a *App) Service() *pairing.Service { return a.service }

// API 管理 API，未启用时为 nil
func (a *App) API() *api.Server { return a.api }

// Listeners 已启动的监听器
func (a *App) Listeners() []ListenerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ListenerInfo, 0, len(a.listeners))
	for _, l := range a.listeners {
		out = append(out, l.info())
	}
	return out
}

// Start 打开全部已启用的监听器、启动管理 API 并生成初始密钥
// 任一监听器失败时已打开的监听器全部关闭
func (a *App) Start() error {
	if a.IsClosed() {
		return coreerrors.ErrServiceClosed
	}

	specs := enabledListeners(a.root.Anchor.Protocols)
	if len(specs) == 0 {
		return coreerrors.New(coreerrors.CodeConfigError, "no protocol listener enabled")
	}

	opened := make([]*listener, 0, len(specs))
	for _, ls := range specs {
		ln, err := transport.Listen(a.Ctx(), ls.protocol, ls.address+ls.path)
		if err != nil {
			for _, l := range opened {
				_ = l.ln.Close()
			}
			return err
		}
		l := &listener{protocol: ls.protocol, path: ls.path, ln: ln}
		opened = append(opened, l)
		a.logger.Infof("Anchor: %s listener on %s", l.protocol, l.info().Address)
	}

	if a.api != nil {
		if err := a.api.Start(); err != nil {
			for _, l := range opened {
				_ = l.ln.Close()
			}
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "start management api")
		}
	}

	key, err := a.service.GenerateKey()
	if err != nil {
		for _, l := range opened {
			_ = l.ln.Close()
		}
		return err
	}
	a.logger.Infof("Anchor: %s ready, connection key generation %d", a.root.Anchor.Name, key.Generation)

	g, gctx := errgroup.WithContext(a.Ctx())
	for _, l := range opened {
		g.Go(func() error { return a.acceptLoop(gctx, l) })
	}
	// 任一接收循环出错时关闭其余监听器
	g.Go(func() error {
		<-gctx.Done()
		a.closeListeners()
		return nil
	})

	a.mu.Lock()
	a.listeners = opened
	a.group = g
	a.mu.Unlock()
	return nil
}

// Run 阻塞到 ctx 取消或某个监听器失败，返回前关闭 Anchor
// 尚未 Start 时先启动
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group == nil {
		if err := a.Start(); err != nil {
			_ = a.Close()
			return err
		}
		a.mu.Lock()
		group = a.group
		a.mu.Unlock()
	}

	errCh := make(chan error, 1)
	safe.Go("anchor-wait", func() { errCh <- group.Wait() })

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Infof("Anchor: shutdown requested")
	case <-a.Ctx().Done():
	case runErr = <-errCh:
	}
	if err := a.Close(); runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) acceptLoop(ctx context.Context, l *listener) error {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "%s accept failed", l.protocol)
		}
		safe.Go("anchor-handshake", func() {
			// 失败已由配对服务记录
			_, _ = a.service.Accept(ctx, raw)
		})
	}
}

func (a *App) closeListeners() {
	a.mu.Lock()
	listeners := a.listeners
	a.mu.Unlock()
	for _, l := range listeners {
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.Debugf("Anchor: close %s listener: %v", l.protocol, err)
		}
	}
}

type listenerSpec struct {
	protocol string
	address  string
	path     string
}

func enabledListeners(p schema.ProtocolsConfig) []listenerSpec {
	var specs []listenerSpec
	add := func(protocol string, lc schema.ListenerConfig, path string) {
		if !lc.Enabled {
			return
		}
		specs = append(specs, listenerSpec{
			protocol: protocol,
			address:  net.JoinHostPort(lc.Host, strconv.Itoa(lc.Port)),
			path:     path,
		})
	}
	add(schema.ProtocolTCP, p.TCP, "")
	path := p.WebSocket.Path
	if path == "" {
		path = transport.DefaultWebSocketPath
	}
	add(schema.ProtocolWebSocket, p.WebSocket.ListenerConfig, path)
	add(schema.ProtocolQUIC, p.QUIC, "")
	add(schema.ProtocolKCP, p.KCP, "")
	return specs
}
