package ws

import (
	"context"
	"sync"
	"sync/atomic"

	"messenger/internal/metrics"

	"github.com/google/uuid"
)

// Hub 记录所有订阅连接，统计在线人数，并在关闭时结束全部连接。
type Hub struct {
	ctx        context.Context
	cancel     context.CancelFunc
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	online     int32

	mu    sync.RWMutex
	users map[uuid.UUID]int
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		users:      make(map[uuid.UUID]int),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.track(c.userID, 1)
			atomic.StoreInt32(&h.online, int32(len(h.clients)))
			metrics.WsConnections.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.track(c.userID, -1)
				atomic.StoreInt32(&h.online, int32(len(h.clients)))
				metrics.WsConnections.Dec()
			}
		case <-h.ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				metrics.WsConnections.Dec()
			}
			atomic.StoreInt32(&h.online, 0)
			return
		}
	}
}

func (h *Hub) track(userID uuid.UUID, delta int) {
	if userID == uuid.Nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := h.users[userID] + delta; n > 0 {
		h.users[userID] = n
	} else {
		delete(h.users, userID)
	}
}

// join 把连接登记到 hub；hub 已关闭时返回 false。
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Count 返回当前连接数。
func (h *Hub) Count() int { return int(atomic.LoadInt32(&h.online)) }

// Online 返回某个用户当前已认证的连接数。
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// Close 结束全部连接及其订阅。
func (h *Hub) Close() { h.cancel() }
