// Package client 是 messenger 服务端的 Go 客户端：REST 认证、GraphQL 查询与变更、WebSocket 订阅。
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error 是服务端返回的带状态码错误，GraphQL 错误的状态码取自 extensions.code。
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Message) }

// StatusOf 返回错误携带的状态码，非服务端错误返回 0。
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Tokens 是登录或刷新后得到的 token 对。
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Client struct {
	base string
	http *http.Client

	mu     sync.RWMutex
	tokens Tokens
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithTokens(t Tokens) Option { return func(c *Client) { c.tokens = t } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// rest 发送 JSON 请求；非 2xx 响应转换为 *Error。
func (c *Client) rest(ctx context.Context, path string, in, out interface{}) error {
	resp, err := c.post(ctx, path, "", in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *Client) post(ctx context.Context, path, token string, in interface{}) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", path)
	}
	return resp, nil
}

func decode(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: body.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code int `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   jsoniter.RawMessage `json:"data"`
	Errors []gqlError          `json:"errors"`
}

func (r *gqlResponse) err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	return &Error{Status: e.Extensions.Code, Message: e.Message}
}

// graphql 执行查询或变更。access token 过期（HTTP 401）时用 refresh token 换新后重试一次。
func (c *Client) graphql(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	resp, err := c.exec(ctx, query, vars)
	if StatusOf(err) == http.StatusUnauthorized && c.Tokens().RefreshToken != "" {
		if rerr := c.Refresh(ctx); rerr != nil {
			return err
		}
		resp, err = c.exec(ctx, query, vars)
	}
	if err != nil {
		return err
	}
	if err := resp.err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(resp.Data, out), "decode data")
}

func (c *Client) exec(ctx context.Context, query string, vars map[string]interface{}) (*gqlResponse, error) {
	resp, err := c.post(ctx, "/graphql", c.Tokens().AccessToken, gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out gqlResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
