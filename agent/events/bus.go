package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// subscriptionCounter 生成唯一订阅 ID
var subscriptionCounter int64

// Handler 事件处理器
type Handler func(Event)

// Bus 事件总线接口
type Bus interface {
	Publish(event Event)
	Subscribe(kind Kind, handler Handler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// AsyncBus 带缓冲的异步事件总线，缓冲满时丢弃事件
type AsyncBus struct {
	mu       sync.RWMutex
	handlers map[Kind]map[string]Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewBus 创建事件总线，bufferSize <= 0 时使用 256
func NewBus(bufferSize int, logger *zap.Logger) *AsyncBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &AsyncBus{
		handlers: make(map[Kind]map[string]Handler),
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go bus.processEvents()
	return bus
}

// Publish 发布事件，不阻塞调用方
func (b *AsyncBus) Publish(event Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- event:
	case <-b.done:
	default:
		if n := b.dropped.Add(1); n%100 == 1 {
			b.logger.Warn("event bus full, dropping events", zap.Int64("dropped_total", n))
		}
	}
}

// Dropped 返回因缓冲满被丢弃的事件数
func (b *AsyncBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe 订阅指定种类的事件
func (b *AsyncBus) Subscribe(kind Kind, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", kind, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[kind][id] = handler
	return id
}

// Unsubscribe 取消订阅
func (b *AsyncBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, kind)
			}
			return
		}
	}
}

func (b *AsyncBus) processEvents() {
	for {
		select {
		case event := <-b.events:
			b.dispatch(event)
		case <-b.done:
			return
		}
	}
}

// 同一事件的处理器顺序执行，单个处理器 panic 不影响其他处理器
func (b *AsyncBus) dispatch(event Event) {
	b.mu.RLock()
	src := b.handlers[event.Kind]
	handlers := make([]Handler, 0, len(src))
	for _, h := range src {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", zap.Any("recover", r), zap.String("kind", string(event.Kind)))
				}
			}()
			h(event)
		}()
	}
}

// Stop 停止事件总线，未分发的事件被丢弃
func (b *AsyncBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
