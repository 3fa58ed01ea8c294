package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string         `gorm:"not null" json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type Chat struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	OwnerID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"ownerId"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ChatUserStatus 是成员状态位掩码。
type ChatUserStatus int32

const (
	ChatUserActive ChatUserStatus = 0
	ChatUserLeaved ChatUserStatus = 1 << 0
)

func (s ChatUserStatus) Has(flag ChatUserStatus) bool { return s&flag != 0 }

// ChatUser 是用户与会话之间的成员关系，(chat_id, user_id) 唯一；退出时软删除，重新加入时恢复同一行。
type ChatUser struct {
	ChatID    uuid.UUID      `gorm:"type:uuid;primaryKey;autoIncrement:false;index:idx_chat_user_cursor,priority:1" json:"chatId"`
	UserID    uuid.UUID      `gorm:"type:uuid;primaryKey;autoIncrement:false;index:idx_chat_user_cursor,priority:3" json:"userId"`
	Status    ChatUserStatus `gorm:"not null;default:0" json:"status"`
	LastSeen  time.Time      `gorm:"not null" json:"lastSeen"`
	CreatedAt time.Time      `gorm:"index:idx_chat_user_cursor,priority:2;not null" json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt"`
}

func (cu *ChatUser) Leaved() bool { return cu.Status.Has(ChatUserLeaved) }

type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    uuid.UUID `gorm:"type:uuid;index:idx_msg_chat_created,priority:1;not null" json:"chatId"`
	AuthorID  uuid.UUID `gorm:"type:uuid;index;not null" json:"authorId"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"index:idx_msg_chat_created,priority:2;not null" json:"createdAt"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type RefreshToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
