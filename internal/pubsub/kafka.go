package pubsub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter 创建异步批量写入的 Kafka writer。
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// KafkaMirror 在内层总线发布成功后，把事件追加写入 Kafka，供审计与离线通知消费。
// 写 Kafka 失败只记录日志，不影响订阅投递。
type KafkaMirror struct {
	Bus
	w messageWriter
}

func NewKafkaMirror(inner Bus, w messageWriter) *KafkaMirror {
	return &KafkaMirror{Bus: inner, w: w}
}

func (m *KafkaMirror) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := m.Bus.Publish(ctx, topic, payload); err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(topic),
		Value:   payload,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "event", Value: []byte(EventOf(topic))}},
	}
	if err := m.w.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("kafka mirror write")
	}
	return nil
}

func (m *KafkaMirror) Close() error {
	return errors.Join(m.w.Close(), m.Bus.Close())
}
