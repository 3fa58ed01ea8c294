package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"messenger/internal/db"
	"messenger/internal/metrics"
	"messenger/internal/models"
	"messenger/internal/pubsub"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const maxMessageText = 4096

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db  *gorm.DB
	bus pubsub.Bus
}

func NewMessageService(gdb *gorm.DB, bus pubsub.Bus) *MessageService {
	return &MessageService{db: gdb, bus: bus}
}

// Send 发送消息，只有活跃成员可以发言。
func (s *MessageService) Send(ctx context.Context, authorID, chatID uuid.UUID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > maxMessageText {
		return nil, InvalidArgument("invalid message text")
	}
	if err := s.requireMember(ctx, chatID, authorID); err != nil {
		return nil, err
	}

	msg := models.Message{ChatID: chatID, AuthorID: authorID, Text: text}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, errors.Wrap(err, "create message")
	}
	metrics.MessagesTotal.Inc()

	publish(ctx, s.bus, pubsub.MessageCreated, chatID, &msg)
	return &msg, nil
}

// MessageQuery 是消息分页参数，游标指向上一页最旧的一条。
type MessageQuery struct {
	ChatID        uuid.UUID
	Count         int
	LastID        *uuid.UUID
	LastCreatedAt *time.Time
}

type MessageResult struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// List 按 (createdAt, id) 降序返回游标之前的消息。
func (s *MessageService) List(ctx context.Context, userID uuid.UUID, q MessageQuery) (*MessageResult, error) {
	if err := checkCount(q.Count); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, q.ChatID, userID); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Where("chat_id = ?", q.ChatID)
	if q.LastID != nil && q.LastCreatedAt != nil {
		at := db.Normalize(*q.LastCreatedAt)
		tx = tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, *q.LastID)
	}
	if q.Count != -1 {
		tx = tx.Limit(q.Count)
	}

	var msgs []models.Message
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	return &MessageResult{Messages: msgs, HasMore: len(msgs) == q.Count}, nil
}

func (s *MessageService) requireMember(ctx context.Context, chatID, userID uuid.UUID) error {
	w := primary(ctx, s.db)
	if _, err := findChat(ctx, w, chatID); err != nil {
		return err
	}
	if _, err := activeMember(ctx, w, chatID, userID); err != nil {
		if errors.Is(err, ErrChatUserNotFound) {
			return ErrNotMember
		}
		return err
	}
	return nil
}
