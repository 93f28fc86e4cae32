package events

import (
	"context"
	"sync"

	"letmego-core/internal/core/dispose"
	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/safe"
)

// Bus 事件总线
//
// Publish 在调用方 goroutine 内按订阅顺序同步分发，
// 同一个发布者发出的事件对每个订阅者保持顺序。
type Bus struct {
	dispose.Dispose

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	order  []uint64
}

type subscription struct {
	eventType string // 空表示订阅全部
	handler   Handler
}

// NewBus 创建事件总线
func NewBus(parentCtx context.Context) *Bus {
	bus := &Bus{subs: make(map[uint64]subscription)}
	bus.SetCtx(parentCtx, bus.onClose)
	return bus
}

func (b *Bus) onClose() error {
	b.mu.Lock()
	b.subs = make(map[uint64]subscription)
	b.order = nil
	b.mu.Unlock()
	return nil
}

// Subscribe 订阅事件，eventType 为空时接收全部事件
// 返回的函数用于取消订阅，可重复调用
func (b *Bus) Subscribe(eventType string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "event handler cannot be nil")
	}
	if b.IsClosed() {
		return nil, coreerrors.ErrServiceClosed
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{eventType: eventType, handler: handler}
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish 发布事件；处理器 panic 会被恢复并记录
func (b *Bus) Publish(event Event) {
	if b.IsClosed() {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		sub := b.subs[id]
		if sub.eventType == "" || sub.eventType == event.Type() {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(event, h)
	}
}

func dispatch(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("events: handler for %s panicked: %v", event.Type(), r)
		}
	}()
	h(event)
}

// SubscriberCount 订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Forward 将事件异步转发到 channel，channel 满时丢弃
// 供 websocket 推送这类慢消费者使用
func (b *Bus) Forward(ctx context.Context, eventType string, buffer int) (<-chan Event, error) {
	ch := make(chan Event, buffer)
	cancel, err := b.Subscribe(eventType, func(event Event) {
		select {
		case ch <- event:
		default:
			corelog.Warnf("events: subscriber lagging, dropped %s", event.Type())
		}
	})
	if err != nil {
		return nil, err
	}
	safe.Go("events-forward", func() {
		<-ctx.Done()
		cancel()
	})
	return ch, nil
}
