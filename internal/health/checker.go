// Package health 组件健康检查
package health

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus 组件状态
type ComponentStatus string

const (
	ComponentStatusHealthy   ComponentStatus = "healthy"
	ComponentStatusDegraded  ComponentStatus = "degraded"  // 可用但需要处理，例如没有有效密钥
	ComponentStatusUnhealthy ComponentStatus = "unhealthy" // 不可用
)

// DefaultCheckTimeout 单个检查的超时
const DefaultCheckTimeout = 2 * time.Second

// ComponentHealth 组件健康信息
type ComponentHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// Checker 健康检查器
type Checker interface {
	Check(ctx context.Context) ComponentHealth
}

// CheckerFunc 函数形式的检查器
type CheckerFunc func(ctx context.Context) ComponentHealth

// Check 实现 Checker
func (f CheckerFunc) Check(ctx context.Context) ComponentHealth { return f(ctx) }

// Report 一次完整检查的结果
type Report struct {
	Status     ComponentStatus   `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Registry 按注册顺序执行检查
type Registry struct {
	mu       sync.RWMutex
	names    []string
	checkers map[string]Checker
	timeout  time.Duration
}

// NewRegistry 创建检查器注册表，timeout <= 0 时使用默认值
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Registry{checkers: make(map[string]Checker), timeout: timeout}
}

// Register 注册检查器，同名检查器被替换
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checkers[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checkers[name] = c
}

// Check 执行全部检查，整体状态取最差的组件状态
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = r.checkers[name]
	}
	r.mu.RUnlock()

	report := Report{Status: ComponentStatusHealthy, Components: make([]ComponentHealth, 0, len(names))}
	for i, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		h := c.Check(cctx)
		if cctx.Err() != nil && h.Status == "" {
			h = ComponentHealth{Status: ComponentStatusUnhealthy, Message: "check timed out"}
		}
		cancel()

		h.Name = names[i]
		if h.LastCheck.IsZero() {
			h.LastCheck = time.Now()
		}
		report.Components = append(report.Components, h)
		report.Status = worse(report.Status, h.Status)
	}
	return report
}

func worse(a, b ComponentStatus) ComponentStatus {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(s ComponentStatus) int {
	switch s {
	case ComponentStatusHealthy:
		return 0
	case ComponentStatusDegraded:
		return 1
	default:
		return 2
	}
}
