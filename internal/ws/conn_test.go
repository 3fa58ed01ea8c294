package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"messenger/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSchema 把 events 中的值转发给每个订阅，并记录订阅时的用户。
type fakeSchema struct {
	events chan interface{}
	users  chan uuid.UUID
	ended  chan struct{}
}

func newFakeSchema() *fakeSchema {
	return &fakeSchema{events: make(chan interface{}), users: make(chan uuid.UUID, 4), ended: make(chan struct{}, 4)}
}

func (f *fakeSchema) Subscribe(ctx context.Context, _, _ string, _ map[string]interface{}) (<-chan interface{}, error) {
	uid, _ := auth.UserIDFrom(ctx)
	f.users <- uid
	out := make(chan interface{})
	go func() {
		defer func() {
			close(out)
			f.ended <- struct{}{}
		}()
		for {
			select {
			case ev := <-f.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var goodUser = uuid.New()

func fakeAuth(token string) (uuid.UUID, error) {
	if token == "good" {
		return goodUser, nil
	}
	return uuid.Nil, errors.New("invalid token")
}

func newServer(t *testing.T) (*httptest.Server, *Hub, *fakeSchema) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	schema := newFakeSchema()
	r := gin.New()
	r.GET("/subscriptions", Serve(hub, schema, fakeAuth))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub, schema
}

func dial(t *testing.T, srv *httptest.Server, proto, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscriptions" + query
	d := websocket.Dialer{Subprotocols: []string{proto}}
	conn, _, err := d.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m message) {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

// read 读取下一条非 keep-alive 消息。
func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m message
		require.NoError(t, json.Unmarshal(data, &m))
		if m.Type != msgKeepAlive {
			return m
		}
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "unexpected error: %v", err)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func TestServe_TransportWS(t *testing.T) {
	srv, hub, schema := newServer(t)
	conn := dial(t, srv, protoTransportWS, "")
	assert.Equal(t, protoTransportWS, conn.Subprotocol())

	send(t, conn, message{Type: msgConnectionInit, Payload: []byte(`{"authorization":"Bearer good"}`)})
	assert.Equal(t, msgConnectionAck, read(t, conn).Type)
	waitFor(t, func() bool { return hub.Online(goodUser) == 1 })

	send(t, conn, message{Type: msgPing})
	assert.Equal(t, msgPong, read(t, conn).Type)

	send(t, conn, message{ID: "1", Type: msgSubscribe, Payload: []byte(`{"query":"subscription { x }"}`)})
	assert.Equal(t, goodUser, <-schema.users)

	schema.events <- map[string]interface{}{"data": map[string]int{"x": 1}}
	m := read(t, conn)
	assert.Equal(t, msgNext, m.Type)
	assert.Equal(t, "1", m.ID)
	assert.JSONEq(t, `{"data":{"x":1}}`, string(m.Payload))

	send(t, conn, message{ID: "1", Type: msgComplete})
	select {
	case <-schema.ended:
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled after complete")
	}

	_ = conn.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })
}

func TestServe_Legacy(t *testing.T) {
	srv, _, schema := newServer(t)
	conn := dial(t, srv, protoLegacyWS, "?token=good")

	send(t, conn, message{Type: msgConnectionInit})
	assert.Equal(t, msgConnectionAck, read(t, conn).Type)

	send(t, conn, message{ID: "a", Type: msgStart, Payload: []byte(`{"query":"subscription { x }"}`)})
	assert.Equal(t, goodUser, <-schema.users)

	schema.events <- map[string]int{"x": 2}
	m := read(t, conn)
	assert.Equal(t, msgData, m.Type)
	assert.Equal(t, "a", m.ID)

	send(t, conn, message{ID: "a", Type: msgStop})
	select {
	case <-schema.ended:
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled after stop")
	}
}

func TestServe_AnonymousSubscription(t *testing.T) {
	srv, _, schema := newServer(t)
	conn := dial(t, srv, protoTransportWS, "")
	send(t, conn, message{Type: msgConnectionInit})
	assert.Equal(t, msgConnectionAck, read(t, conn).Type)

	send(t, conn, message{ID: "1", Type: msgSubscribe, Payload: []byte(`{"query":"subscription { x }"}`)})
	assert.Equal(t, uuid.Nil, <-schema.users)
}

func TestServe_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps []message
		code  int
	}{
		{"subscribe before init", []message{
			{ID: "1", Type: msgSubscribe, Payload: []byte(`{"query":"subscription { x }"}`)},
		}, closeUnauthorized},
		{"double init", []message{
			{Type: msgConnectionInit}, {Type: msgConnectionInit},
		}, closeTooManyInitialise},
		{"bad token in init", []message{
			{Type: msgConnectionInit, Payload: []byte(`{"token":"bad"}`)},
		}, closeForbidden},
		{"duplicate id", []message{
			{Type: msgConnectionInit},
			{ID: "1", Type: msgSubscribe, Payload: []byte(`{"query":"subscription { x }"}`)},
			{ID: "1", Type: msgSubscribe, Payload: []byte(`{"query":"subscription { x }"}`)},
		}, closeSubscriberExists},
		{"unknown type", []message{{Type: "bogus"}}, closeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newServer(t)
			conn := dial(t, srv, protoTransportWS, "")
			for _, m := range tt.steps {
				send(t, conn, m)
			}
			expectClose(t, conn, tt.code)
		})
	}
}

func TestServe_RejectsInvalidQueryToken(t *testing.T) {
	srv, _, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscriptions?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
