// Package graph 实现 GraphQL schema：查询、变更以及基于 pubsub 的订阅。
package graph

import (
	"context"

	"messenger/internal/auth"
	"messenger/internal/pubsub"
	"messenger/internal/service"

	"github.com/google/uuid"
	"github.com/graph-gophers/graphql-go"
)

// Resolver 是 schema 的根解析器，依赖注入 service 层与事件总线。
type Resolver struct {
	users    *service.UserService
	chats    *service.ChatService
	members  *service.MembershipService
	messages *service.MessageService
	bus      pubsub.Bus
}

func NewResolver(users *service.UserService, chats *service.ChatService, members *service.MembershipService,
	messages *service.MessageService, bus pubsub.Bus) *Resolver {
	return &Resolver{users: users, chats: chats, members: members, messages: messages, bus: bus}
}

// caller 返回当前请求的用户；未认证时返回 401。
func caller(ctx context.Context) (uuid.UUID, error) {
	id, ok := auth.UserIDFrom(ctx)
	if !ok {
		return uuid.Nil, toGraphQL(service.ErrUnauthenticated)
	}
	return id, nil
}

func (r *Resolver) Me(ctx context.Context) (*userResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	u, err := r.users.Get(ctx, uid, false)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &userResolver{u: *u}, nil
}

func (r *Resolver) Chat(ctx context.Context, args struct{ ID graphql.ID }) (*chatResolver, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	id, err := parseID("id", args.ID)
	if err != nil {
		return nil, err
	}
	c, err := r.chats.Get(ctx, id)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &chatResolver{root: r, c: *c}, nil
}

func (r *Resolver) Chats(ctx context.Context) ([]*chatResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := r.chats.Joined(ctx, uid)
	if err != nil {
		return nil, toGraphQL(err)
	}
	out := make([]*chatResolver, 0, len(chats))
	for _, c := range chats {
		out = append(out, &chatResolver{root: r, c: c})
	}
	return out, nil
}

func (r *Resolver) ChatUser(ctx context.Context, args struct{ UserID, ChatID graphql.ID }) (*chatUserResolver, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	userID, err := parseID("userId", args.UserID)
	if err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return nil, err
	}
	cu, err := r.members.Get(ctx, userID, chatID)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &chatUserResolver{root: r, cu: *cu}, nil
}

type chatUsersArgs struct {
	ChatID        graphql.ID
	Count         int32
	LastUserID    *graphql.ID
	LastCreatedAt *graphql.Time
}

func (r *Resolver) ChatUsers(ctx context.Context, args chatUsersArgs) (*chatUsersResultResolver, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return nil, err
	}
	lastUserID, err := parseOptionalID("lastUserId", args.LastUserID)
	if err != nil {
		return nil, err
	}
	q := service.ListQuery{ChatID: chatID, Count: int(args.Count), LastUserID: lastUserID}
	if args.LastCreatedAt != nil {
		q.LastCreatedAt = &args.LastCreatedAt.Time
	}
	res, err := r.members.List(ctx, q)
	if err != nil {
		return nil, toGraphQL(err)
	}
	out := &chatUsersResultResolver{hasMore: res.HasMore}
	for _, cu := range res.ChatUsers {
		out.chatUsers = append(out.chatUsers, &chatUserResolver{root: r, cu: cu})
	}
	return out, nil
}

type messagesArgs struct {
	ChatID        graphql.ID
	Count         int32
	LastID        *graphql.ID
	LastCreatedAt *graphql.Time
}

func (r *Resolver) Messages(ctx context.Context, args messagesArgs) (*messagesResultResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return nil, err
	}
	lastID, err := parseOptionalID("lastId", args.LastID)
	if err != nil {
		return nil, err
	}
	q := service.MessageQuery{ChatID: chatID, Count: int(args.Count), LastID: lastID}
	if args.LastCreatedAt != nil {
		q.LastCreatedAt = &args.LastCreatedAt.Time
	}
	res, err := r.messages.List(ctx, uid, q)
	if err != nil {
		return nil, toGraphQL(err)
	}
	out := &messagesResultResolver{hasMore: res.HasMore}
	for _, m := range res.Messages {
		out.messages = append(out.messages, &messageResolver{root: r, m: m})
	}
	return out, nil
}

func (r *Resolver) CreateChat(ctx context.Context, args struct{ Name string }) (*chatResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	c, err := r.chats.Create(ctx, uid, args.Name)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &chatResolver{root: r, c: *c}, nil
}

func (r *Resolver) JoinChat(ctx context.Context, args struct{ ChatID graphql.ID }) (*chatUserResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return nil, err
	}
	cu, err := r.members.Join(ctx, uid, chatID)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &chatUserResolver{root: r, cu: *cu}, nil
}

func (r *Resolver) LeaveChat(ctx context.Context, args struct{ ChatID graphql.ID }) (bool, error) {
	uid, err := caller(ctx)
	if err != nil {
		return false, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return false, err
	}
	ok, err := r.members.Leave(ctx, uid, chatID)
	return ok, toGraphQL(err)
}

func (r *Resolver) ChangeLastSeen(ctx context.Context, args struct {
	ChatID   graphql.ID
	LastSeen graphql.Time
}) (bool, error) {
	uid, err := caller(ctx)
	if err != nil {
		return false, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return false, err
	}
	ok, err := r.members.ChangeLastSeen(ctx, uid, chatID, args.LastSeen.Time)
	return ok, toGraphQL(err)
}

func (r *Resolver) SendMessage(ctx context.Context, args struct {
	ChatID graphql.ID
	Text   string
}) (*messageResolver, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	chatID, err := parseID("chatId", args.ChatID)
	if err != nil {
		return nil, err
	}
	m, err := r.messages.Send(ctx, uid, chatID, args.Text)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &messageResolver{root: r, m: *m}, nil
}
