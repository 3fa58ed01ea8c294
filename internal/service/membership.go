package service

import (
	"context"
	"time"

	"messenger/internal/db"
	"messenger/internal/models"
	"messenger/internal/pubsub"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// MembershipService 管理用户与会话之间的成员关系：加入、退出、最后阅读时间。
type MembershipService struct {
	db  *gorm.DB
	bus pubsub.Bus
}

func NewMembershipService(gdb *gorm.DB, bus pubsub.Bus) *MembershipService {
	return &MembershipService{db: gdb, bus: bus}
}

// Get 按 (userID, chatID) 查询活跃成员关系。
func (s *MembershipService) Get(ctx context.Context, userID, chatID uuid.UUID) (*models.ChatUser, error) {
	return activeMember(ctx, s.db, chatID, userID)
}

// ListQuery 是成员分页参数；游标只有在两个字段都给出时才生效。
type ListQuery struct {
	ChatID        uuid.UUID
	Count         int
	LastUserID    *uuid.UUID
	LastCreatedAt *time.Time
}

type ListResult struct {
	ChatUsers []models.ChatUser `json:"chatUsers"`
	HasMore   bool              `json:"hasMore"`
}

// List 按 (createdAt, userId) 升序返回游标之后的活跃成员。
// HasMore 只是近似信号：本页条数恰好等于 Count 时为 true。
func (s *MembershipService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if err := checkCount(q.Count); err != nil {
		return nil, err
	}
	if _, err := findChat(ctx, s.db, q.ChatID); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Where("chat_id = ?", q.ChatID)
	if q.LastUserID != nil && q.LastCreatedAt != nil {
		at := db.Normalize(*q.LastCreatedAt)
		tx = tx.Where("(created_at > ? OR (created_at = ? AND user_id > ?))", at, at, *q.LastUserID)
	}
	if q.Count != -1 {
		tx = tx.Limit(q.Count)
	}

	var rows []models.ChatUser
	if err := tx.Order("created_at ASC").Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list chat users")
	}
	return &ListResult{ChatUsers: rows, HasMore: len(rows) == q.Count}, nil
}

// Join 加入会话。没有成员记录时新建；已退出的记录被恢复并把 lastSeen 重置为当前时间。
func (s *MembershipService) Join(ctx context.Context, userID, chatID uuid.UUID) (cu *models.ChatUser, err error) {
	ctx, span := startSpan(ctx, "membership.Join", chatID, userID)
	defer func() { endSpan(span, err) }()

	w := primary(ctx, s.db)
	chat, err := findChat(ctx, w, chatID)
	if err != nil {
		return nil, err
	}

	var existing models.ChatUser
	err = w.Unscoped().
		Where("chat_id = ? AND user_id = ?", chatID, userID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cu = &models.ChatUser{ChatID: chatID, UserID: userID, Status: models.ChatUserActive, LastSeen: db.Now()}
		if err = s.db.WithContext(ctx).Create(cu).Error; err != nil {
			if isDuplicateKey(err) {
				return nil, ErrAlreadyJoined
			}
			return nil, errors.Wrap(err, "create chat user")
		}
	case err != nil:
		return nil, errors.Wrap(err, "find chat user")
	default:
		if cu, err = s.rejoin(ctx, &existing, userID); err != nil {
			return nil, err
		}
	}

	publishJoined(ctx, s.bus, chat, cu)
	return cu, nil
}

func (s *MembershipService) rejoin(ctx context.Context, cu *models.ChatUser, userID uuid.UUID) (*models.ChatUser, error) {
	if cu.UserID != userID {
		return nil, ErrForbidden
	}
	if !cu.Leaved() {
		return nil, ErrAlreadyJoined
	}

	now := db.Now()
	status := cu.Status &^ models.ChatUserLeaved
	res := s.db.WithContext(ctx).Unscoped().Model(&models.ChatUser{}).
		Where("chat_id = ? AND user_id = ? AND (status & ?) <> 0", cu.ChatID, cu.UserID, models.ChatUserLeaved).
		Updates(map[string]any{"status": status, "deleted_at": nil, "last_seen": now, "updated_at": now})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "recover chat user")
	}
	// 并发的另一次 join 已经恢复了这条记录
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyJoined
	}

	cu.Status = status
	cu.DeletedAt = gorm.DeletedAt{}
	cu.LastSeen = now
	cu.UpdatedAt = now
	return cu, nil
}

func publishJoined(ctx context.Context, bus pubsub.Bus, chat *models.Chat, cu *models.ChatUser) {
	publish(ctx, bus, pubsub.ChatJoined, cu.UserID, chat)
	publish(ctx, bus, pubsub.ChatUserJoined, cu.ChatID, cu)
}

// Leave 退出会话：标记 LEAVED 并软删除。
func (s *MembershipService) Leave(ctx context.Context, userID, chatID uuid.UUID) (ok bool, err error) {
	ctx, span := startSpan(ctx, "membership.Leave", chatID, userID)
	defer func() { endSpan(span, err) }()

	w := primary(ctx, s.db)
	chat, err := findChat(ctx, w, chatID)
	if err != nil {
		return false, err
	}

	var cu models.ChatUser
	err = w.Unscoped().
		Where("chat_id = ? AND user_id = ?", chatID, userID).First(&cu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrChatUserNotFound
	}
	if err != nil {
		return false, errors.Wrap(err, "find chat user")
	}
	if cu.UserID != userID {
		return false, ErrForbidden
	}
	if cu.Leaved() {
		return false, ErrAlreadyLeaved
	}

	now := db.Now()
	status := cu.Status | models.ChatUserLeaved
	res := s.db.WithContext(ctx).Unscoped().Model(&models.ChatUser{}).
		Where("chat_id = ? AND user_id = ? AND (status & ?) = 0", chatID, userID, models.ChatUserLeaved).
		Updates(map[string]any{"status": status, "deleted_at": now, "updated_at": now})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "leave chat")
	}
	if res.RowsAffected == 0 {
		return false, ErrAlreadyLeaved
	}

	cu.Status = status
	cu.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	cu.UpdatedAt = now

	publish(ctx, s.bus, pubsub.ChatUserLeaved, chatID, &cu)
	publish(ctx, s.bus, pubsub.ChatLeaved, userID, chat)
	return true, nil
}

// ChangeLastSeen 仅当 lastSeen 严格大于已存储的值时前移标记并发布一次事件，否则返回 false。
func (s *MembershipService) ChangeLastSeen(ctx context.Context, userID, chatID uuid.UUID, lastSeen time.Time) (ok bool, err error) {
	ctx, span := startSpan(ctx, "membership.ChangeLastSeen", chatID, userID)
	defer func() { endSpan(span, err) }()

	w := primary(ctx, s.db)
	if _, err = findChat(ctx, w, chatID); err != nil {
		return false, err
	}
	cu, err := activeMember(ctx, w, chatID, userID)
	if err != nil {
		return false, err
	}
	if cu.UserID != userID {
		return false, ErrForbidden
	}

	seen := db.Normalize(lastSeen)
	if !seen.After(cu.LastSeen) {
		return false, nil
	}
	// 条件更新保证并发调用时标记不会倒退
	res := s.db.WithContext(ctx).Model(&models.ChatUser{}).
		Where("chat_id = ? AND user_id = ? AND last_seen < ?", chatID, userID, seen).
		Updates(map[string]any{"last_seen": seen, "updated_at": db.Now()})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "change last seen")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	cu.LastSeen = seen
	publish(ctx, s.bus, pubsub.LastSeenChanged, userID, cu)
	return true, nil
}
