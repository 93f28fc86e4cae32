// Package dispose 提供组件级的资源释放管理
//
// 组件内嵌 Dispose，通过 SetCtx 绑定父 context 并登记清理函数；
// 显式 Close 或父 context 取消都会触发清理，且清理只执行一次。
package dispose

import (
	"context"
	"errors"
	"sync"

	corelog "letmego-core/internal/core/log"
)

// Disposable 统一的资源释放接口
type Disposable interface {
	Close() error
}

// Dispose 资源管理结构体
type Dispose struct {
	mu            sync.Mutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	cleanHandlers []func() error
	closeErr      error
}

// Ctx 返回组件生命周期 context，Close 后被取消
func (d *Dispose) Ctx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// IsClosed 是否已关闭
func (d *Dispose) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// SetCtx 绑定父 context，onClose 作为第一个清理函数登记
func (d *Dispose) SetCtx(parent context.Context, onClose func() error) {
	d.mu.Lock()
	if d.ctx != nil {
		d.mu.Unlock()
		corelog.Warnf("dispose: ctx already set")
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(parent)
	ctx := d.ctx
	d.mu.Unlock()

	if onClose != nil {
		d.AddCleanHandler(onClose)
	}

	go func() {
		<-ctx.Done()
		_ = d.Close()
	}()
}

// AddCleanHandler 添加清理函数，按登记顺序执行
func (d *Dispose) AddCleanHandler(f func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanHandlers = append(d.cleanHandlers, f)
}

// Close 执行全部清理函数，重复调用返回首次的结果
func (d *Dispose) Close() error {
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return err
	}
	d.closed = true
	handlers := make([]func() error, len(d.cleanHandlers))
	copy(handlers, d.cleanHandlers)
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	for i, h := range handlers {
		if err := h(); err != nil {
			corelog.Errorf("dispose: clean handler[%d] failed: %v", i, err)
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	d.closeErr = errors.Join(errs...)
	err := d.closeErr
	d.mu.Unlock()
	return err
}
