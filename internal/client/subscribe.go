package client

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const subscriptionID = "1"

type wsMessage struct {
	ID      string              `json:"id,omitempty"`
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// Subscribe 通过 graphql-transport-ws 建立订阅，每收到一条事件就把 data 交给 fn。
// 服务端结束订阅时返回 nil；ctx 结束时发送 complete 并返回 ctx.Err()；fn 返回错误时终止订阅。
func (c *Client) Subscribe(ctx context.Context, query string, vars map[string]interface{}, fn func(data jsoniter.RawMessage) error) error {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/subscriptions"
	d := websocket.Dialer{Subprotocols: []string{"graphql-transport-ws"}}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &Error{Status: resp.StatusCode, Message: "subscription rejected"}
		}
		return errors.Wrap(err, "dial subscriptions")
	}
	defer conn.Close()

	var wmu sync.Mutex
	send := func(m wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		return writeJSON(conn, m)
	}
	// ctx 结束时关闭连接以解除阻塞的读取。
	stop := context.AfterFunc(ctx, func() {
		_ = send(wsMessage{ID: subscriptionID, Type: "complete"})
		_ = conn.Close()
	})
	defer stop()

	params := map[string]string{}
	if t := c.Tokens().AccessToken; t != "" {
		params["authorization"] = "Bearer " + t
	}
	payload, _ := json.Marshal(params)
	if err := send(wsMessage{Type: "connection_init", Payload: payload}); err != nil {
		return err
	}

	sub, _ := json.Marshal(gqlRequest{Query: query, Variables: vars})
	acked := false
	for {
		var m wsMessage
		if err := readJSON(conn, &m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return &Error{Status: ce.Code, Message: ce.Text}
			}
			return errors.Wrap(err, "read subscription")
		}
		switch m.Type {
		case "connection_ack":
			if !acked {
				acked = true
				if err := send(wsMessage{ID: subscriptionID, Type: "subscribe", Payload: sub}); err != nil {
					return err
				}
			}
		case "ping":
			if err := send(wsMessage{Type: "pong"}); err != nil {
				return err
			}
		case "next":
			var r gqlResponse
			if err := json.Unmarshal(m.Payload, &r); err != nil {
				return errors.Wrap(err, "decode event")
			}
			if err := r.err(); err != nil {
				return err
			}
			if err := fn(r.Data); err != nil {
				return err
			}
		case "error":
			var errs []gqlError
			_ = json.Unmarshal(m.Payload, &errs)
			r := gqlResponse{Errors: errs}
			if err := r.err(); err != nil {
				return err
			}
			return &Error{Message: "subscription failed"}
		case "complete":
			return nil
		}
	}
}

func writeJSON(conn *websocket.Conn, m wsMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	return errors.Wrap(conn.WriteMessage(websocket.TextMessage, data), "write frame")
}

func readJSON(conn *websocket.Conn, m *wsMessage) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(data, m), "decode frame")
}
