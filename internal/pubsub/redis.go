package pubsub

import (
	"context"
	"fmt"
	"time"

	"messenger/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisChannelPrefix = "messenger:"

// OpenRedis 创建 Redis 客户端并用 Ping 确认连通。
func OpenRedis(addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		PoolSize:     50,
		MaxIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", addr).Msg("redis connection established")
	return rdb, nil
}

// RedisBus 基于 Redis PUBLISH/SUBSCRIBE，用于多实例部署时的跨进程扇出。
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus { return &RedisBus{rdb: rdb} }

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, redisChannelPrefix+topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ps := b.rdb.Subscribe(ctx, redisChannelPrefix+topic)
	// 等待订阅确认，保证返回后发布的消息都能收到。
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	metrics.ActiveSubscriptions.Inc()

	out := make(chan []byte, 16)
	go func() {
		defer func() {
			_ = ps.Close()
			close(out)
			metrics.ActiveSubscriptions.Dec()
		}()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error { return b.rdb.Close() }
