package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"messenger/internal/db"
	"messenger/internal/models"
	"messenger/internal/pubsub"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const maxChatName = 128

// ChatService 封装会话相关的业务逻辑。
type ChatService struct {
	db  *gorm.DB
	bus pubsub.Bus
}

func NewChatService(gdb *gorm.DB, bus pubsub.Bus) *ChatService {
	return &ChatService{db: gdb, bus: bus}
}

// Create 创建会话，并让创建者直接加入。
func (s *ChatService) Create(ctx context.Context, ownerID uuid.UUID, name string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxChatName {
		return nil, InvalidArgument("invalid chat name")
	}

	chat := models.Chat{Name: name, OwnerID: ownerID}
	var cu models.ChatUser
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		cu = models.ChatUser{ChatID: chat.ID, UserID: ownerID, LastSeen: db.Now()}
		return tx.Create(&cu).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "create chat")
	}

	publishJoined(ctx, s.bus, &chat, &cu)
	return &chat, nil
}

// Get 查询未删除的会话。
func (s *ChatService) Get(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return findChat(ctx, s.db, id)
}

// Find 查询会话，包含已软删除的记录，供字段解析使用。
func (s *ChatService) Find(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.WithContext(ctx).Unscoped().First(&chat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, errors.Wrap(err, "find chat")
	}
	return &chat, nil
}

// Joined 返回用户当前加入的会话，按加入时间升序。
func (s *ChatService) Joined(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_users ON chat_users.chat_id = chats.id AND chat_users.deleted_at IS NULL").
		Where("chat_users.user_id = ?", userID).
		Order("chat_users.created_at ASC").
		Find(&chats).Error
	if err != nil {
		return nil, errors.Wrap(err, "list joined chats")
	}
	return chats, nil
}
