package client

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrLogout 是退出登录意外失败时展示给用户的通用错误。
var ErrLogout = errors.New("could not log out")

// Session 持有登录用户、已加入的聊天以及已读位置追踪器，对应侧边栏与登录页的状态。
type Session struct {
	*Client
	Tracker *Tracker

	mu    sync.RWMutex
	user  *User
	chats []Chat
}

func NewSession(c *Client) *Session {
	return &Session{Client: c, Tracker: NewTracker(c)}
}

// Login 登录后加载用户信息与聊天列表，并用每个聊天的成员记录初始化已读位置。
func (s *Session) Login(ctx context.Context, username, password string) (*User, error) {
	res, err := s.Client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user = &res.User
	s.mu.Unlock()
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	return &res.User, nil
}

// Sync 重新拉取聊天列表与已读位置。
func (s *Session) Sync(ctx context.Context) error {
	user := s.User()
	if user == nil {
		me, err := s.Me(ctx)
		if err != nil {
			return err
		}
		user = me
	}
	chats, err := s.Chats(ctx)
	if err != nil {
		return err
	}
	for _, ch := range chats {
		cu, err := s.ChatUser(ctx, user.ID, ch.ID)
		if err != nil {
			return err
		}
		s.Tracker.Update(ch.ID, cu.LastSeen)
	}
	s.mu.Lock()
	s.user = user
	s.chats = chats
	s.mu.Unlock()
	return nil
}

func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) ChatList() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Chat(nil), s.chats...)
}

// Logout 吊销 refresh token 并清空用户、聊天与已读位置；失败时返回 ErrLogout，本地状态保持不变。
func (s *Session) Logout(ctx context.Context) error {
	if err := s.Client.Logout(ctx); err != nil {
		log.Debug().Err(err).Msg("logout failed")
		return ErrLogout
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.mu.Lock()
	s.user = nil
	s.chats = nil
	s.mu.Unlock()
	s.Tracker.Reset()
}
