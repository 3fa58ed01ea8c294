package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messenger/internal/config"
	"messenger/internal/db"
	"messenger/internal/graph"
	clog "messenger/internal/log"
	"messenger/internal/mw"
	"messenger/internal/pubsub"
	"messenger/internal/server"
	"messenger/internal/service"
	"messenger/internal/telemetry"
	"messenger/internal/ws"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// newBus 按配置选择订阅总线，配置了 Kafka 时额外镜像一份事件。
func newBus(cfg config.Config) (pubsub.Bus, error) {
	var bus pubsub.Bus = pubsub.NewMemoryBus(64)
	if cfg.PubSubDriver == "redis" {
		rdb, err := pubsub.OpenRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		bus = pubsub.NewRedisBus(rdb)
	}
	if len(cfg.KafkaBrokers) > 0 {
		bus = pubsub.NewKafkaMirror(bus, pubsub.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka mirror enabled")
	}
	return bus, nil
}

func main() {
	// main 函数负责加载配置、初始化日志与追踪、连接数据库并启动 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry init")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN, cfg.ReplicaDSNs...)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	bus, err := newBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("pubsub init")
	}

	users := service.NewUserService(gdb, cfg)
	resolver := graph.NewResolver(
		users,
		service.NewChatService(gdb, bus),
		service.NewMembershipService(gdb, bus),
		service.NewMessageService(gdb, bus),
		bus,
	)
	hub := ws.NewHub()
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 10*time.Minute)

	r := server.SetupRouter(server.Deps{
		Config:  cfg,
		DB:      gdb,
		Users:   users,
		Schema:  graph.NewSchema(resolver),
		Hub:     hub,
		Limiter: limiter,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, "messenger"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("pubsub", cfg.PubSubDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Shutdown 不管理已劫持的 WebSocket，需要先由 hub 关闭。
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	limiter.Stop()
	if err := bus.Close(); err != nil {
		log.Error().Err(err).Msg("pubsub close")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}
}
