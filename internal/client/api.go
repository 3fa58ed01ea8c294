package client

import (
	"context"
	"time"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatUser struct {
	ChatID    string     `json:"chatId"`
	UserID    string     `json:"userId"`
	Status    int        `json:"status"`
	LastSeen  time.Time  `json:"lastSeen"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt"`
	User      *User      `json:"user,omitempty"`
}

type ChatUsersPage struct {
	ChatUsers []ChatUser `json:"chatUsers"`
	HasMore   bool       `json:"hasMore"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Author    User      `json:"author"`
}

type LoginResult struct {
	Tokens
	User User `json:"user"`
}

const chatUserFields = `chatId userId status lastSeen createdAt deletedAt user { id username }`

func (c *Client) Register(ctx context.Context, username, password string) (*User, error) {
	var u User
	err := c.rest(ctx, "/api/v1/auth/register", map[string]string{"username": username, "password": password}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login 登录并保存 token 对。
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.rest(ctx, "/api/v1/auth/login", map[string]string{"username": username, "password": password}, &res)
	if err != nil {
		return nil, err
	}
	c.SetTokens(res.Tokens)
	return &res, nil
}

// Refresh 轮换 refresh token。
func (c *Client) Refresh(ctx context.Context) error {
	var t Tokens
	if err := c.rest(ctx, "/api/v1/auth/refresh", map[string]string{"refreshToken": c.Tokens().RefreshToken}, &t); err != nil {
		return err
	}
	c.SetTokens(t)
	return nil
}

// Logout 吊销 refresh token 并清空本地 token。
func (c *Client) Logout(ctx context.Context) error {
	if err := c.rest(ctx, "/api/v1/auth/logout", map[string]string{"refreshToken": c.Tokens().RefreshToken}, nil); err != nil {
		return err
	}
	c.SetTokens(Tokens{})
	return nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct{ Me User }
	if err := c.graphql(ctx, `{ me { id username } }`, nil, &out); err != nil {
		return nil, err
	}
	return &out.Me, nil
}

func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var out struct{ Chats []Chat }
	if err := c.graphql(ctx, `{ chats { id name createdAt } }`, nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (c *Client) CreateChat(ctx context.Context, name string) (*Chat, error) {
	var out struct{ CreateChat Chat }
	err := c.graphql(ctx, `mutation($name: String!) { createChat(name: $name) { id name createdAt } }`,
		map[string]interface{}{"name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out.CreateChat, nil
}

func (c *Client) JoinChat(ctx context.Context, chatID string) (*ChatUser, error) {
	var out struct{ JoinChat ChatUser }
	err := c.graphql(ctx, `mutation($chatId: ID!) { joinChat(chatId: $chatId) { `+chatUserFields+` } }`,
		map[string]interface{}{"chatId": chatID}, &out)
	if err != nil {
		return nil, err
	}
	return &out.JoinChat, nil
}

func (c *Client) LeaveChat(ctx context.Context, chatID string) (bool, error) {
	var out struct{ LeaveChat bool }
	err := c.graphql(ctx, `mutation($chatId: ID!) { leaveChat(chatId: $chatId) }`,
		map[string]interface{}{"chatId": chatID}, &out)
	return out.LeaveChat, err
}

// ChangeLastSeen 推进当前用户在聊天中的已读位置；服务端已有更新的值时返回 false。
func (c *Client) ChangeLastSeen(ctx context.Context, chatID string, lastSeen time.Time) (bool, error) {
	var out struct{ ChangeLastSeen bool }
	err := c.graphql(ctx, `mutation($chatId: ID!, $lastSeen: Time!) { changeLastSeen(chatId: $chatId, lastSeen: $lastSeen) }`,
		map[string]interface{}{"chatId": chatID, "lastSeen": lastSeen.UTC().Format(time.RFC3339Nano)}, &out)
	return out.ChangeLastSeen, err
}

func (c *Client) ChatUser(ctx context.Context, userID, chatID string) (*ChatUser, error) {
	var out struct{ ChatUser ChatUser }
	err := c.graphql(ctx, `query($userId: ID!, $chatId: ID!) { chatUser(userId: $userId, chatId: $chatId) { `+chatUserFields+` } }`,
		map[string]interface{}{"userId": userID, "chatId": chatID}, &out)
	if err != nil {
		return nil, err
	}
	return &out.ChatUser, nil
}

// Cursor 是 chatUsers 分页游标，取上一页最后一行。
type Cursor struct {
	UserID    string
	CreatedAt time.Time
}

// ChatUsers 分页列出成员；count 为 -1 时返回全部，after 为 nil 时从头开始。
func (c *Client) ChatUsers(ctx context.Context, chatID string, count int, after *Cursor) (*ChatUsersPage, error) {
	vars := map[string]interface{}{"chatId": chatID, "count": count}
	if after != nil {
		vars["lastUserId"] = after.UserID
		vars["lastCreatedAt"] = after.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	var out struct{ ChatUsers ChatUsersPage }
	err := c.graphql(ctx, `query($chatId: ID!, $count: Int!, $lastUserId: ID, $lastCreatedAt: Time) {
  chatUsers(chatId: $chatId, count: $count, lastUserId: $lastUserId, lastCreatedAt: $lastCreatedAt) {
    chatUsers { `+chatUserFields+` }
    hasMore
  }
}`, vars, &out)
	if err != nil {
		return nil, err
	}
	return &out.ChatUsers, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	var out struct{ SendMessage Message }
	err := c.graphql(ctx, `mutation($chatId: ID!, $text: String!) { sendMessage(chatId: $chatId, text: $text) { id chatId text createdAt author { id username } } }`,
		map[string]interface{}{"chatId": chatID, "text": text}, &out)
	if err != nil {
		return nil, err
	}
	return &out.SendMessage, nil
}

// Messages 按时间倒序返回一页消息。
func (c *Client) Messages(ctx context.Context, chatID string, count int) ([]Message, bool, error) {
	var out struct {
		Messages struct {
			Messages []Message `json:"messages"`
			HasMore  bool      `json:"hasMore"`
		}
	}
	err := c.graphql(ctx, `query($chatId: ID!, $count: Int!) { messages(chatId: $chatId, count: $count) { messages { id chatId text createdAt author { id username } } hasMore } }`,
		map[string]interface{}{"chatId": chatID, "count": count}, &out)
	if err != nil {
		return nil, false, err
	}
	return out.Messages.Messages, out.Messages.HasMore, nil
}
