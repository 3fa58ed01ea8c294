package ws

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// 支持的子协议：新版 graphql-transport-ws 与旧版 subscriptions-transport-ws（graphql-ws）。
const (
	protoTransportWS = "graphql-transport-ws"
	protoLegacyWS    = "graphql-ws"
)

// 消息类型。
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionTerminate = "connection_terminate"
	msgKeepAlive           = "ka"
	msgPing                = "ping"
	msgPong                = "pong"
	msgSubscribe           = "subscribe"
	msgStart               = "start"
	msgNext                = "next"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
	msgStop                = "stop"
)

// 关闭码，取值与 graphql-transport-ws 一致。
const (
	closeBadRequest        = 4400
	closeUnauthorized      = 4401
	closeForbidden         = 4403
	closeSubscriberExists  = 4409
	closeTooManyInitialise = 4429
)

type message struct {
	ID      string              `json:"id,omitempty"`
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// initPayload 兼容常见客户端放置 token 的几种写法。
type initPayload struct {
	Authorization string `json:"authorization"`
	Token         string `json:"token"`
	AuthToken     string `json:"authToken"`
}

func (p initPayload) token() string {
	switch {
	case p.Token != "":
		return p.Token
	case p.AuthToken != "":
		return p.AuthToken
	}
	const prefix = "bearer "
	if len(p.Authorization) > len(prefix) && strings.EqualFold(p.Authorization[:len(prefix)], prefix) {
		return p.Authorization[len(prefix):]
	}
	return p.Authorization
}
