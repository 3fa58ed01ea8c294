package graph

import (
	"context"

	"messenger/internal/models"

	"github.com/graph-gophers/graphql-go"
)

type userResolver struct {
	u models.User
}

func (r *userResolver) ID() graphql.ID          { return graphql.ID(r.u.ID.String()) }
func (r *userResolver) Username() string        { return r.u.Username }
func (r *userResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.u.CreatedAt} }

type chatResolver struct {
	root *Resolver
	c    models.Chat
}

func (r *chatResolver) ID() graphql.ID          { return graphql.ID(r.c.ID.String()) }
func (r *chatResolver) Name() string            { return r.c.Name }
func (r *chatResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.c.CreatedAt} }

func (r *chatResolver) Owner(ctx context.Context) (*userResolver, error) {
	u, err := r.root.users.Get(ctx, r.c.OwnerID, true)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &userResolver{u: *u}, nil
}

// chatUserResolver 的 chat / user 字段包含已软删除的记录。
type chatUserResolver struct {
	root *Resolver
	cu   models.ChatUser
}

func (r *chatUserResolver) ChatID() graphql.ID      { return graphql.ID(r.cu.ChatID.String()) }
func (r *chatUserResolver) UserID() graphql.ID      { return graphql.ID(r.cu.UserID.String()) }
func (r *chatUserResolver) Status() int32           { return int32(r.cu.Status) }
func (r *chatUserResolver) LastSeen() graphql.Time  { return graphql.Time{Time: r.cu.LastSeen} }
func (r *chatUserResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.cu.CreatedAt} }
func (r *chatUserResolver) UpdatedAt() graphql.Time { return graphql.Time{Time: r.cu.UpdatedAt} }

func (r *chatUserResolver) DeletedAt() *graphql.Time {
	if !r.cu.DeletedAt.Valid {
		return nil
	}
	return &graphql.Time{Time: r.cu.DeletedAt.Time}
}

func (r *chatUserResolver) Chat(ctx context.Context) (*chatResolver, error) {
	c, err := r.root.chats.Find(ctx, r.cu.ChatID)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &chatResolver{root: r.root, c: *c}, nil
}

func (r *chatUserResolver) User(ctx context.Context) (*userResolver, error) {
	u, err := r.root.users.Get(ctx, r.cu.UserID, true)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &userResolver{u: *u}, nil
}

type chatUsersResultResolver struct {
	chatUsers []*chatUserResolver
	hasMore   bool
}

func (r *chatUsersResultResolver) ChatUsers() []*chatUserResolver {
	if r.chatUsers == nil {
		return []*chatUserResolver{}
	}
	return r.chatUsers
}

func (r *chatUsersResultResolver) HasMore() bool { return r.hasMore }

type messageResolver struct {
	root *Resolver
	m    models.Message
}

func (r *messageResolver) ID() graphql.ID          { return graphql.ID(r.m.ID.String()) }
func (r *messageResolver) ChatID() graphql.ID      { return graphql.ID(r.m.ChatID.String()) }
func (r *messageResolver) Text() string            { return r.m.Text }
func (r *messageResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.m.CreatedAt} }

func (r *messageResolver) Author(ctx context.Context) (*userResolver, error) {
	u, err := r.root.users.Get(ctx, r.m.AuthorID, true)
	if err != nil {
		return nil, toGraphQL(err)
	}
	return &userResolver{u: *u}, nil
}

type messagesResultResolver struct {
	messages []*messageResolver
	hasMore  bool
}

func (r *messagesResultResolver) Messages() []*messageResolver {
	if r.messages == nil {
		return []*messageResolver{}
	}
	return r.messages
}

func (r *messagesResultResolver) HasMore() bool { return r.hasMore }
