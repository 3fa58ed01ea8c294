// Package pubsub 提供订阅事件总线：按 topic 路由字节负载，投递尽力而为、订阅者之间不保证顺序。
package pubsub

import (
	"context"
	"errors"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrClosed = errors.New("pubsub: bus closed")

// Bus 是 GraphQL 订阅使用的共享总线。Subscribe 返回的 channel 在 ctx 结束或总线关闭后被关闭。
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

type Event string

const (
	ChatJoined      Event = "CHAT_JOINED"
	ChatLeaved      Event = "CHAT_LEAVED"
	ChatUserJoined  Event = "CHAT_USER_JOINED"
	ChatUserLeaved  Event = "CHAT_USER_LEAVED"
	ChatUserUpdated Event = "CHAT_USER_UPDATED"
	LastSeenChanged Event = "CHANGE_LAST_SEEN"
	MessageCreated  Event = "MESSAGE_CREATED"
)

// Topic 以 "<EVENT>_<id>" 组合 topic 名。
func Topic(e Event, id string) string { return string(e) + "_" + id }

// EventOf 从 topic 中取回事件类型；id 不含下划线。
func EventOf(topic string) Event {
	i := strings.LastIndexByte(topic, '_')
	if i <= 0 {
		return Event(topic)
	}
	return Event(topic[:i])
}

// PublishJSON 把 v 编码为 JSON 后发布。
func PublishJSON(ctx context.Context, bus Bus, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, topic, b)
}
