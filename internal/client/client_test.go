package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messenger/internal/config"
	"messenger/internal/db/dbtest"
	"messenger/internal/graph"
	"messenger/internal/mw"
	"messenger/internal/pubsub"
	"messenger/internal/server"
	"messenger/internal/service"
	"messenger/internal/ws"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newServer(t *testing.T) (*httptest.Server, *pubsub.MemoryBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	gdb := dbtest.New(t)
	bus := pubsub.NewMemoryBus(16)
	hub := ws.NewHub()
	rl := mw.NewRateLimiter(rate.Inf, 1, time.Minute)

	users := service.NewUserService(gdb, cfg)
	resolver := graph.NewResolver(users, service.NewChatService(gdb, bus),
		service.NewMembershipService(gdb, bus), service.NewMessageService(gdb, bus), bus)
	srv := httptest.NewServer(server.SetupRouter(server.Deps{
		Config: cfg, DB: gdb, Users: users, Schema: graph.NewSchema(resolver), Hub: hub, Limiter: rl,
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		rl.Stop()
		_ = bus.Close()
	})
	return srv, bus
}

func login(t *testing.T, url, name string) *Session {
	t.Helper()
	s := NewSession(New(url))
	_, err := s.Register(context.Background(), name, "password")
	require.NoError(t, err)
	_, err = s.Login(context.Background(), name, "password")
	require.NoError(t, err)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_MembershipFlow(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	alice := login(t, srv.URL, "alice")
	bob := login(t, srv.URL, "bob")

	chat, err := alice.CreateChat(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, alice.Sync(ctx))
	require.Len(t, alice.ChatList(), 1)
	_, ok := alice.Tracker.LastSeen(chat.ID)
	assert.True(t, ok, "sync loads the owner's last seen")

	cu, err := bob.JoinChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.User().ID, cu.UserID)
	_, err = bob.JoinChat(ctx, chat.ID)
	assert.Equal(t, http.StatusConflict, StatusOf(err))

	page, err := alice.ChatUsers(ctx, chat.ID, 1, nil)
	require.NoError(t, err)
	require.Len(t, page.ChatUsers, 1)
	assert.True(t, page.HasMore)
	last := page.ChatUsers[0]
	page, err = alice.ChatUsers(ctx, chat.ID, 1, &Cursor{UserID: last.UserID, CreatedAt: last.CreatedAt})
	require.NoError(t, err)
	require.Len(t, page.ChatUsers, 1)
	assert.NotEqual(t, last.UserID, page.ChatUsers[0].UserID)

	all, err := alice.ChatUsers(ctx, chat.ID, -1, nil)
	require.NoError(t, err)
	assert.Len(t, all.ChatUsers, 2)
	assert.False(t, all.HasMore)

	ok, err = bob.LeaveChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = bob.LeaveChat(ctx, chat.ID)
	assert.Equal(t, http.StatusConflict, StatusOf(err))
}

func TestSession_VisibleMessageAdvancesLastSeen(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	alice := login(t, srv.URL, "alice")
	bob := login(t, srv.URL, "bob")

	chat, err := alice.CreateChat(ctx, "general")
	require.NoError(t, err)
	_, err = bob.JoinChat(ctx, chat.ID)
	require.NoError(t, err)
	require.NoError(t, bob.Sync(ctx))

	time.Sleep(2 * time.Millisecond)
	msg, err := alice.SendMessage(ctx, chat.ID, "hello")
	require.NoError(t, err)

	obs := bob.Tracker.Observe(chat.ID, msg.CreatedAt)
	require.NotNil(t, obs)
	require.NoError(t, obs.Intersect(ctx, true))

	cu, err := bob.ChatUser(ctx, bob.User().ID, chat.ID)
	require.NoError(t, err)
	assert.True(t, cu.LastSeen.Equal(msg.CreatedAt), "lastSeen = %v, want %v", cu.LastSeen, msg.CreatedAt)
	assert.Nil(t, bob.Tracker.Observe(chat.ID, msg.CreatedAt))

	changed, err := bob.ChangeLastSeen(ctx, chat.ID, msg.CreatedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSession_Logout(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	s := login(t, srv.URL, "alice")
	_, err := s.CreateChat(ctx, "general")
	require.NoError(t, err)
	require.NoError(t, s.Sync(ctx))

	require.NoError(t, s.Logout(ctx))
	assert.Nil(t, s.User())
	assert.Empty(t, s.ChatList())
	assert.Empty(t, s.Tokens().AccessToken)

	assert.ErrorIs(t, s.Logout(ctx), ErrLogout)
	_, err = s.Me(ctx)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
}

var errStop = errors.New("stop")

func TestSubscribe_ChatUserJoined(t *testing.T) {
	srv, bus := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice := login(t, srv.URL, "alice")
	bob := login(t, srv.URL, "bob")
	chat, err := alice.CreateChat(ctx, "general")
	require.NoError(t, err)

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- alice.Subscribe(ctx, `subscription($chatId: ID!) { chatUserJoined(chatId: $chatId) { userId } }`,
			map[string]interface{}{"chatId": chat.ID}, func(data jsoniter.RawMessage) error {
				var ev struct {
					ChatUserJoined struct {
						UserID string `json:"userId"`
					}
				}
				if err := json.Unmarshal(data, &ev); err != nil {
					return err
				}
				got <- ev.ChatUserJoined.UserID
				return errStop
			})
	}()
	waitFor(t, func() bool { return bus.Subscribers(pubsub.Topic(pubsub.ChatUserJoined, chat.ID)) == 1 })

	_, err = bob.JoinChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.User().ID, <-got)
	assert.ErrorIs(t, <-done, errStop)
	waitFor(t, func() bool { return bus.Subscribers(pubsub.Topic(pubsub.ChatUserJoined, chat.ID)) == 0 })
}

func TestSubscribe_MessageCreatedForbidden(t *testing.T) {
	srv, _ := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice := login(t, srv.URL, "alice")
	bob := login(t, srv.URL, "bob")
	chat, err := alice.CreateChat(ctx, "general")
	require.NoError(t, err)

	err = bob.Subscribe(ctx, `subscription($chatId: ID!) { messageCreated(chatId: $chatId) { id } }`,
		map[string]interface{}{"chatId": chat.ID}, func(jsoniter.RawMessage) error { return nil })
	assert.Equal(t, http.StatusForbidden, StatusOf(err))
}

func TestSubscribe_ContextCancel(t *testing.T) {
	srv, bus := newServer(t)
	alice := login(t, srv.URL, "alice")
	id := alice.User().ID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- alice.Subscribe(ctx, `subscription($userId: ID!) { lastSeenChanged(userId: $userId) { chatId } }`,
			map[string]interface{}{"userId": id}, func(jsoniter.RawMessage) error { return nil })
	}()
	topic := pubsub.Topic(pubsub.LastSeenChanged, id)
	waitFor(t, func() bool { return bus.Subscribers(topic) == 1 })
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
	waitFor(t, func() bool { return bus.Subscribers(topic) == 0 })
}

func TestGraphQL_RefreshOnExpiredToken(t *testing.T) {
	refreshed := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"me":{"id":"u1","username":"alice"}}}`))
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshed++
		_, _ = w.Write([]byte(`{"accessToken":"new","refreshToken":"r2"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, WithTokens(Tokens{AccessToken: "old", RefreshToken: "r1"}))
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, Tokens{AccessToken: "new", RefreshToken: "r2"}, c.Tokens())
}

func TestGraphQL_ErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Chat not found","extensions":{"code":404}}],"data":null}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).JoinChat(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}
