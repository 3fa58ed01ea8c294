package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"messenger/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Subscriber 执行一次 GraphQL 订阅；*graphql.Schema 满足该接口。
type Subscriber interface {
	Subscribe(ctx context.Context, query, operationName string, variables map[string]interface{}) (<-chan interface{}, error)
}

// Authenticator 把 access token 解析为用户 ID。
type Authenticator func(token string) (uuid.UUID, error)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{protoTransportWS, protoLegacyWS},
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	schema Subscriber
	authn  Authenticator
	proto  string

	// 以下字段只在 readPump 所在 goroutine 中读写
	ctx    context.Context
	userID uuid.UUID
	acked  bool

	done   <-chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	ops map[string]context.CancelFunc
}

// Serve 处理 GET /subscriptions。token 可以放在 Authorization 头、token 查询参数或 connection_init 负载中。
func Serve(h *Hub, schema Subscriber, authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID uuid.UUID
		if token := auth.BearerToken(c.Request); token != "" {
			uid, err := authn(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			userID = uid
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h, conn, schema, authn, userID)
		go client.writePump()
		client.readPump()
	}
}

func newClient(h *Hub, conn *websocket.Conn, schema Subscriber, authn Authenticator, userID uuid.UUID) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	proto := conn.Subprotocol()
	if proto == "" {
		proto = protoTransportWS
	}
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		schema: schema,
		authn:  authn,
		proto:  proto,
		ctx:    ctx,
		done:   ctx.Done(),
		cancel: cancel,
		ops:    make(map[string]context.CancelFunc),
	}
	if userID != uuid.Nil {
		c.identify(userID)
	}
	return c
}

func (c *Client) identify(userID uuid.UUID) {
	c.userID = userID
	c.ctx = auth.WithUserID(c.ctx, userID)
}

func (c *Client) legacy() bool { return c.proto == protoLegacyWS }

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		if c.acked {
			c.hub.leave(c)
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.closeWith(closeBadRequest, "Invalid message received")
			return
		}
		if !c.handle(msg) {
			return
		}
	}
}

// handle 处理一条客户端消息，返回 false 时结束连接。
func (c *Client) handle(msg message) bool {
	switch msg.Type {
	case msgConnectionInit:
		return c.init(msg)
	case msgPing:
		if !c.legacy() {
			c.write(message{Type: msgPong, Payload: msg.Payload})
		}
	case msgPong:
	case msgSubscribe, msgStart:
		if !c.acked {
			if !c.legacy() {
				c.closeWith(closeUnauthorized, "Unauthorized")
				return false
			}
			c.sendError(msg.ID, "connection not initialised")
			return true
		}
		var p subscribePayload
		if msg.ID == "" || json.Unmarshal(msg.Payload, &p) != nil || p.Query == "" {
			if !c.legacy() {
				c.closeWith(closeBadRequest, "Invalid message received")
				return false
			}
			c.sendError(msg.ID, "invalid subscribe payload")
			return true
		}
		return c.start(msg.ID, p)
	case msgComplete, msgStop:
		c.finish(msg.ID)
	case msgConnectionTerminate:
		return false
	default:
		if !c.legacy() {
			c.closeWith(closeBadRequest, "Invalid message received")
			return false
		}
		c.sendError(msg.ID, "unknown message type "+msg.Type)
	}
	return true
}

func (c *Client) init(msg message) bool {
	if c.acked {
		if c.legacy() {
			return true
		}
		c.closeWith(closeTooManyInitialise, "Too many initialisation requests")
		return false
	}
	var p initPayload
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &p)
	}
	if token := p.token(); token != "" {
		uid, err := c.authn(token)
		if err != nil {
			if c.legacy() {
				c.write(message{Type: msgConnectionError, Payload: errorPayload("invalid token", false)})
			}
			c.closeWith(closeForbidden, "Forbidden")
			return false
		}
		c.identify(uid)
	}
	if !c.hub.join(c) {
		return false
	}
	c.acked = true
	c.write(message{Type: msgConnectionAck})
	if c.legacy() {
		c.write(message{Type: msgKeepAlive})
	}
	return true
}

func (c *Client) start(id string, p subscribePayload) bool {
	c.mu.Lock()
	if _, dup := c.ops[id]; dup {
		c.mu.Unlock()
		if !c.legacy() {
			c.closeWith(closeSubscriberExists, "Subscriber for "+id+" already exists")
			return false
		}
		c.sendError(id, "subscription "+id+" already exists")
		return true
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.ops[id] = cancel
	c.mu.Unlock()

	ch, err := c.schema.Subscribe(ctx, p.Query, p.OperationName, p.Variables)
	if err != nil {
		c.finish(id)
		c.sendError(id, err.Error())
		return true
	}
	go c.forward(id, ch)
	return true
}

// forward 把订阅结果逐条推给客户端；结果流结束且客户端没有主动取消时发送 complete。
func (c *Client) forward(id string, ch <-chan interface{}) {
	next := msgNext
	if c.legacy() {
		next = msgData
	}
	for resp := range ch {
		b, err := json.Marshal(resp)
		if err != nil {
			log.Warn().Err(err).Str("op_id", id).Msg("encode subscription result")
			continue
		}
		c.write(message{ID: id, Type: next, Payload: b})
	}
	if c.finish(id) {
		c.write(message{ID: id, Type: msgComplete})
	}
}

// finish 取消并移除一个操作，返回它是否仍在进行。
func (c *Client) finish(id string) bool {
	c.mu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func errorPayload(msg string, list bool) []byte {
	var v interface{} = map[string]string{"message": msg}
	if list {
		v = []interface{}{v}
	}
	b, _ := json.Marshal(v)
	return b
}

func (c *Client) sendError(id, msg string) {
	c.write(message{ID: id, Type: msgError, Payload: errorPayload(msg, !c.legacy())})
}

func (c *Client) write(m message) {
	b, err := json.Marshal(m)
	if err != nil {
		log.Warn().Err(err).Str("type", m.Type).Msg("encode ws frame")
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	}
}

func (c *Client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.cancel()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.legacy() {
				ka, _ := json.Marshal(message{Type: msgKeepAlive})
				if err := c.conn.WriteMessage(websocket.TextMessage, ka); err != nil {
					return
				}
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}
