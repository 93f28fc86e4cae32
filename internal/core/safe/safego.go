// Package safe 提供带 panic 恢复的 Goroutine 启动
//
// 会话的心跳循环和隧道读循环都经由此包启动，
// 任何一个 goroutine 的 panic 都不会拖垮整个 Anchor 进程。
package safe

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	corelog "letmego-core/internal/core/log"
)

var (
	activeCount atomic.Int64
	totalCount  atomic.Int64
	panicCount  atomic.Int64
)

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64 // 当前活跃数量
	Total      int64 // 累计创建数量
	PanicCount int64 // panic 次数
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     activeCount.Load(),
		Total:      totalCount.Load(),
		PanicCount: panicCount.Load(),
	}
}

func run(name string, fn func(), onPanic func(recovered interface{}), done func()) {
	totalCount.Add(1)
	activeCount.Add(1)

	go func() {
		defer func() {
			activeCount.Add(-1)
			if r := recover(); r != nil {
				panicCount.Add(1)
				corelog.Errorf("safe.Go[%s]: panic recovered: %v\n%s", name, r, debug.Stack())
				if onPanic != nil {
					onPanic(r)
				}
			}
			if done != nil {
				done()
			}
		}()
		fn()
	}()
}

// Go 安全启动 Goroutine，name 用于日志标识
func Go(name string, fn func()) {
	run(name, fn, nil, nil)
}

// GoWithContext 带 context 的安全 Goroutine
// fn 需要自行监听 ctx.Done() 退出
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	run(name, func() { fn(ctx) }, nil, nil)
}

// GoWithCallback 发生 panic 时额外调用 onPanic
// 隧道读循环用它在 panic 后关闭底层连接
func GoWithCallback(name string, fn func(), onPanic func(recovered interface{})) {
	run(name, fn, onPanic, nil)
}

// WaitGroup 可等待的安全 Goroutine 组
type WaitGroup struct {
	wg   sync.WaitGroup
	name string
}

// NewWaitGroup 创建 WaitGroup
func NewWaitGroup(name string) *WaitGroup {
	return &WaitGroup{name: name}
}

// Go 在组内安全启动 Goroutine
func (w *WaitGroup) Go(fn func()) {
	w.wg.Add(1)
	run(w.name, fn, nil, w.wg.Done)
}

// Wait 等待组内所有 Goroutine 退出
func (w *WaitGroup) Wait() {
	w.wg.Wait()
}
