package service

import (
	"context"
	"strings"

	"messenger/internal/metrics"
	"messenger/internal/models"
	"messenger/internal/pubsub"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

var tracer = otel.Tracer("messenger/service")

func startSpan(ctx context.Context, name string, chatID, userID uuid.UUID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("chat.id", chatID.String()),
		attribute.String("user.id", userID.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish 在写库成功之后发布事件；失败只记日志，不影响调用结果。
func publish(ctx context.Context, bus pubsub.Bus, e pubsub.Event, id uuid.UUID, v any) {
	topic := pubsub.Topic(e, id.String())
	if err := pubsub.PublishJSON(context.WithoutCancel(ctx), bus, topic, v); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("publish event")
		return
	}
	metrics.MembershipEvents.WithLabelValues(string(e)).Inc()
}

// checkCount 校验分页数量：-1 表示全部，否则必须为正数。
func checkCount(count int) error {
	if count == -1 || count > 0 {
		return nil
	}
	return InvalidArgument("count must be -1 or positive")
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

// primary 返回固定走主库的会话。先读后写的校验不能读从库，否则复制延迟会把刚写入的成员关系读成不存在。
func primary(ctx context.Context, gdb *gorm.DB) *gorm.DB {
	return gdb.Clauses(dbresolver.Write).WithContext(ctx)
}

// findChat 查询未删除的会话，不存在时返回 ErrChatNotFound。
func findChat(ctx context.Context, gdb *gorm.DB, chatID uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	if err := gdb.WithContext(ctx).First(&chat, "id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, errors.Wrap(err, "find chat")
	}
	return &chat, nil
}

// activeMember 查询未退出的成员关系。
func activeMember(ctx context.Context, gdb *gorm.DB, chatID, userID uuid.UUID) (*models.ChatUser, error) {
	var cu models.ChatUser
	err := gdb.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).First(&cu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatUserNotFound
		}
		return nil, errors.Wrap(err, "find chat user")
	}
	return &cu, nil
}
