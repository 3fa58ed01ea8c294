package graph

import (
	"context"
	"net/http"
	"testing"
	"time"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/db/dbtest"
	"messenger/internal/pubsub"
	"messenger/internal/service"

	"github.com/google/uuid"
	"github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	schema *graphql.Schema
	users  *service.UserService
	chats  *service.ChatService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.New(t)
	bus := pubsub.NewMemoryBus(16)
	t.Cleanup(func() { _ = bus.Close() })
	users := service.NewUserService(gdb, config.Config{JWTSecret: "secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7})
	chats := service.NewChatService(gdb, bus)
	r := NewResolver(users, chats, service.NewMembershipService(gdb, bus), service.NewMessageService(gdb, bus), bus)
	return &env{schema: NewSchema(r), users: users, chats: chats}
}

func (e *env) user(t *testing.T, name string) context.Context {
	t.Helper()
	res, err := e.users.Register(context.Background(), name, "password")
	require.NoError(t, err)
	return auth.WithUserID(context.Background(), res.ID)
}

func exec(t *testing.T, e *env, ctx context.Context, query string, vars map[string]interface{}, out interface{}) []int {
	t.Helper()
	resp := e.schema.Exec(ctx, query, "", vars)
	var codes []int
	for _, qe := range resp.Errors {
		code, _ := qe.Extensions["code"].(int)
		codes = append(codes, code)
	}
	if len(resp.Errors) == 0 && out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return codes
}

func TestMembershipFlow(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	bobID, _ := auth.UserIDFrom(bob)

	var created struct {
		CreateChat struct{ ID string } `json:"createChat"`
	}
	require.Empty(t, exec(t, e, alice, `mutation { createChat(name: "room") { id } }`, nil, &created))
	chatID := created.CreateChat.ID

	join := `mutation($c: ID!) { joinChat(chatId: $c) { userId status deletedAt user { username } chat { name } } }`
	var joined struct {
		JoinChat struct {
			UserID    string  `json:"userId"`
			Status    int     `json:"status"`
			DeletedAt *string `json:"deletedAt"`
			User      struct{ Username string }
			Chat      struct{ Name string }
		} `json:"joinChat"`
	}
	require.Empty(t, exec(t, e, bob, join, map[string]interface{}{"c": chatID}, &joined))
	assert.Equal(t, bobID.String(), joined.JoinChat.UserID)
	assert.Equal(t, 0, joined.JoinChat.Status)
	assert.Nil(t, joined.JoinChat.DeletedAt)
	assert.Equal(t, "bob", joined.JoinChat.User.Username)
	assert.Equal(t, "room", joined.JoinChat.Chat.Name)

	assert.Equal(t, []int{http.StatusConflict}, exec(t, e, bob, join, map[string]interface{}{"c": chatID}, nil))

	var members struct {
		ChatUsers struct {
			ChatUsers []struct{ UserID string } `json:"chatUsers"`
			HasMore   bool                      `json:"hasMore"`
		} `json:"chatUsers"`
	}
	list := `query($c: ID!) { chatUsers(chatId: $c, count: -1) { chatUsers { userId } hasMore } }`
	require.Empty(t, exec(t, e, alice, list, map[string]interface{}{"c": chatID}, &members))
	assert.Len(t, members.ChatUsers.ChatUsers, 2)
	assert.False(t, members.ChatUsers.HasMore)

	var left struct{ LeaveChat bool }
	require.Empty(t, exec(t, e, bob, `mutation($c: ID!) { leaveChat(chatId: $c) }`, map[string]interface{}{"c": chatID}, &left))
	assert.True(t, left.LeaveChat)

	lookup := `query($u: ID!, $c: ID!) { chatUser(userId: $u, chatId: $c) { userId } }`
	assert.Equal(t, []int{http.StatusNotFound},
		exec(t, e, alice, lookup, map[string]interface{}{"u": bobID.String(), "c": chatID}, nil))
}

func TestChangeLastSeen(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	aliceID, _ := auth.UserIDFrom(alice)
	chat, err := e.chats.Create(alice, aliceID, "room")
	require.NoError(t, err)

	mutation := `mutation($c: ID!, $t: Time!) { changeLastSeen(chatId: $c, lastSeen: $t) }`
	var res struct{ ChangeLastSeen bool }

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.Empty(t, exec(t, e, alice, mutation, map[string]interface{}{"c": chat.ID.String(), "t": future}, &res))
	assert.True(t, res.ChangeLastSeen)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	require.Empty(t, exec(t, e, alice, mutation, map[string]interface{}{"c": chat.ID.String(), "t": past}, &res))
	assert.False(t, res.ChangeLastSeen)
}

func TestErrorCodes(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")

	tests := []struct {
		name  string
		ctx   context.Context
		query string
		vars  map[string]interface{}
		want  int
	}{
		{"unauthenticated", context.Background(), `{ me { id } }`, nil, http.StatusUnauthorized},
		{"invalid id", alice, `mutation { joinChat(chatId: "nope") { userId } }`, nil, http.StatusBadRequest},
		{"missing chat", alice, `mutation($c: ID!) { joinChat(chatId: $c) { userId } }`,
			map[string]interface{}{"c": uuid.NewString()}, http.StatusNotFound},
		{"leave without membership", alice, `mutation($c: ID!) { leaveChat(chatId: $c) }`,
			map[string]interface{}{"c": uuid.NewString()}, http.StatusNotFound},
		{"bad count", alice, `query($c: ID!) { chatUsers(chatId: $c, count: 0) { hasMore } }`,
			map[string]interface{}{"c": uuid.NewString()}, http.StatusBadRequest},
		{"empty chat name", alice, `mutation { createChat(name: " ") { id } }`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []int{tt.want}, exec(t, e, tt.ctx, tt.query, tt.vars, nil))
		})
	}
}

func TestSubscription_ChatUserJoined(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	aliceID, _ := auth.UserIDFrom(alice)
	chat, err := e.chats.Create(alice, aliceID, "room")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := e.schema.Subscribe(ctx, `subscription($c: ID!) { chatUserJoined(chatId: $c) { user { username } } }`,
		"", map[string]interface{}{"c": chat.ID.String()})
	require.NoError(t, err)

	var joined struct{ JoinChat struct{ Status int } }
	require.Empty(t, exec(t, e, bob, `mutation($c: ID!) { joinChat(chatId: $c) { status } }`,
		map[string]interface{}{"c": chat.ID.String()}, &joined))

	select {
	case ev := <-events:
		resp, ok := ev.(*graphql.Response)
		require.True(t, ok)
		require.Empty(t, resp.Errors)
		assert.JSONEq(t, `{"chatUserJoined":{"user":{"username":"bob"}}}`, string(resp.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription event")
	}
}

func TestSubscription_MessageCreatedRequiresMembership(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	aliceID, _ := auth.UserIDFrom(alice)
	chat, err := e.chats.Create(alice, aliceID, "room")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bob)
	defer cancel()
	events, err := e.schema.Subscribe(ctx, `subscription($c: ID!) { messageCreated(chatId: $c) { text } }`,
		"", map[string]interface{}{"c": chat.ID.String()})
	require.NoError(t, err)

	select {
	case ev := <-events:
		resp := ev.(*graphql.Response)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, http.StatusForbidden, resp.Errors[0].Extensions["code"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription error")
	}
}
