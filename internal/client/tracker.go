package client

import (
	"context"
	"sync"
	"time"
)

// LastSeenUpdater 是提交已读位置的变更接口，*Client 实现了它。
type LastSeenUpdater interface {
	ChangeLastSeen(ctx context.Context, chatID string, lastSeen time.Time) (bool, error)
}

// Tracker 缓存每个聊天的本地已读位置，只在消息比缓存更新时才向服务端提交。
type Tracker struct {
	updater LastSeenUpdater

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewTracker(updater LastSeenUpdater) *Tracker {
	return &Tracker{updater: updater, seen: make(map[string]time.Time)}
}

// ShouldRenew 判断时间为 at 的消息是否比本地已读位置更新。
func (t *Tracker) ShouldRenew(chatID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return at.After(t.seen[chatID])
}

// Update 推进本地已读位置，旧值不会覆盖新值。
func (t *Tracker) Update(chatID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.seen[chatID]) {
		t.seen[chatID] = at
	}
}

func (t *Tracker) LastSeen(chatID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[chatID]
	return at, ok
}

// Reset 清空所有聊天的本地状态（退出登录时使用）。
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.seen = make(map[string]time.Time)
	t.mu.Unlock()
}

// Observe 为一条已渲染的消息创建可见性观察；消息不比已读位置新时返回 nil，无需观察。
func (t *Tracker) Observe(chatID string, createdAt time.Time) *Observation {
	if !t.ShouldRenew(chatID, createdAt) {
		return nil
	}
	return &Observation{t: t, chatID: chatID, at: createdAt}
}

// Observation 对应一条消息的可见性回调。
type Observation struct {
	t      *Tracker
	chatID string
	at     time.Time

	mu   sync.Mutex
	done bool
}

// Intersect 是可见性回调。消息首次可见时重新检查本地已读位置（期间可能已被其它消息推进），
// 仍然更新才提交变更并推进本地位置。提交失败时保留观察，下次可见时重试。
func (o *Observation) Intersect(ctx context.Context, visible bool) error {
	if !visible {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return nil
	}
	if !o.t.ShouldRenew(o.chatID, o.at) {
		o.done = true
		return nil
	}
	if _, err := o.t.updater.ChangeLastSeen(ctx, o.chatID, o.at); err != nil {
		return err
	}
	// 返回 false 说明服务端已有更新的值，本地同样推进，避免重复提交。
	o.t.Update(o.chatID, o.at)
	o.done = true
	return nil
}
