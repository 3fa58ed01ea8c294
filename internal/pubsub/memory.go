package pubsub

import (
	"context"
	"sync"

	"messenger/internal/metrics"

	"github.com/rs/zerolog/log"
)

// MemoryBus 是单实例内的总线：每个 topic 懒创建一个订阅者集合，满缓冲的订阅者会丢弃该条事件。
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	buffer int
	done   chan struct{}
	closed bool
}

type subscriber struct {
	ch chan []byte
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		topics: make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.topics[topic] {
		select {
		case s.ch <- payload:
		default:
			metrics.PubSubDropped.Inc()
			log.Warn().Str("topic", topic).Msg("pubsub subscriber buffer full, event dropped")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		b.topics[topic] = subs
	}
	s := &subscriber{ch: make(chan []byte, b.buffer)}
	subs[s] = struct{}{}
	b.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.unsubscribe(topic, s)
	}()
	return s.ch, nil
}

func (b *MemoryBus) unsubscribe(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.ch)
	metrics.ActiveSubscriptions.Dec()
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Subscribers 返回 topic 当前订阅者数量。
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close 关闭总线并结束所有订阅。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for topic, subs := range b.topics {
		for s := range subs {
			close(s.ch)
			metrics.ActiveSubscriptions.Dec()
		}
		delete(b.topics, topic)
	}
	b.mu.Unlock()
	return nil
}
