package graph

import (
	"context"

	"messenger/internal/models"
	"messenger/internal/pubsub"
	"messenger/internal/service"

	"github.com/graph-gophers/graphql-go"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type userArgs struct{ UserID graphql.ID }

type chatArgs struct{ ChatID graphql.ID }

// listen 订阅 "<EVENT>_<id>" topic。channel 在 ctx 结束时关闭。
func (r *Resolver) listen(ctx context.Context, e pubsub.Event, name string, id graphql.ID) (<-chan []byte, error) {
	uid, err := parseID(name, id)
	if err != nil {
		return nil, err
	}
	ch, err := r.bus.Subscribe(ctx, pubsub.Topic(e, uid.String()))
	if err != nil {
		return nil, toGraphQL(err)
	}
	return ch, nil
}

// forward 把总线上的 JSON 负载解码后交给 GraphQL 执行器；解码失败的事件被跳过。
func forward[T any, R any](ctx context.Context, in <-chan []byte, wrap func(T) R) <-chan R {
	out := make(chan R)
	go func() {
		defer close(out)
		for b := range in {
			var v T
			if err := json.Unmarshal(b, &v); err != nil {
				log.Warn().Err(err).Msg("decode subscription payload")
				continue
			}
			select {
			case out <- wrap(v):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Resolver) chatUsers(ctx context.Context, e pubsub.Event, name string, id graphql.ID) (<-chan *chatUserResolver, error) {
	in, err := r.listen(ctx, e, name, id)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(cu models.ChatUser) *chatUserResolver {
		return &chatUserResolver{root: r, cu: cu}
	}), nil
}

func (r *Resolver) chatEvents(ctx context.Context, e pubsub.Event, id graphql.ID) (<-chan *chatResolver, error) {
	in, err := r.listen(ctx, e, "userId", id)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return forward(ctx, in, func(c models.Chat) *chatResolver {
		return &chatResolver{root: r, c: c}
	}), nil
}

func (r *Resolver) LastSeenChanged(ctx context.Context, args userArgs) (<-chan *chatUserResolver, error) {
	return r.chatUsers(ctx, pubsub.LastSeenChanged, "userId", args.UserID)
}

func (r *Resolver) ChatUserJoined(ctx context.Context, args chatArgs) (<-chan *chatUserResolver, error) {
	return r.chatUsers(ctx, pubsub.ChatUserJoined, "chatId", args.ChatID)
}

func (r *Resolver) ChatUserLeaved(ctx context.Context, args chatArgs) (<-chan *chatUserResolver, error) {
	return r.chatUsers(ctx, pubsub.ChatUserLeaved, "chatId", args.ChatID)
}

func (r *Resolver) ChatUserUpdated(ctx context.Context, args chatArgs) (<-chan *chatUserResolver, error) {
	return r.chatUsers(ctx, pubsub.ChatUserUpdated, "chatId", args.ChatID)
}

func (r *Resolver) ChatJoined(ctx context.Context, args userArgs) (<-chan *chatResolver, error) {
	return r.chatEvents(ctx, pubsub.ChatJoined, args.UserID)
}

func (r *Resolver) ChatLeaved(ctx context.Context, args userArgs) (<-chan *chatResolver, error) {
	return r.chatEvents(ctx, pubsub.ChatLeaved, args.UserID)
}

// MessageCreated 只对会话的活跃成员开放。
func (r *Resolver) MessageCreated(ctx context.Context, args chatArgs) (<-chan *messageResolver, error) {
	ch, err := r.messageCreated(ctx, args.ChatID)
	if err != nil {
		return nil, subscriptionError(err)
	}
	return ch, nil
}

func (r *Resolver) messageCreated(ctx context.Context, id graphql.ID) (<-chan *messageResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", id)
	if err != nil {
		return nil, err
	}
	if _, err := r.members.Get(ctx, uid, chatID); err != nil {
		if errors.Is(err, service.ErrChatUserNotFound) {
			err = service.ErrNotMember
		}
		return nil, toGraphQL(err)
	}
	in, err := r.listen(ctx, pubsub.MessageCreated, "chatId", id)
	if err != nil {
		return nil, err
	}
	return forward(ctx, in, func(m models.Message) *messageResolver {
		return &messageResolver{root: r, m: m}
	}), nil
}
