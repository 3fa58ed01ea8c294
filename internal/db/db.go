package db

import (
	"time"

	"messenger/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Now 是全局统一的时间源：UTC 且截断到微秒，与 Postgres timestamptz 精度一致。
func Now() time.Time { return Normalize(time.Now()) }

func Normalize(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// Options 返回所有方言共用的 gorm 配置。
func Options() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        Now,
		TranslateError: true,
	}
}

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪；配置了只读副本时注册读写分离。
func Connect(dsn string, replicas ...string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), Options())
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				if err = instrument(gdb, replicas); err == nil {
					return gdb, nil
				}
				return nil, err
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func instrument(gdb *gorm.DB, replicas []string) error {
	if len(replicas) > 0 {
		dialectors := make([]gorm.Dialector, 0, len(replicas))
		for _, dsn := range replicas {
			dialectors = append(dialectors, postgres.Open(dsn))
		}
		if err := gdb.Use(dbresolver.Register(dbresolver.Config{
			Replicas: dialectors,
			Policy:   dbresolver.RandomPolicy{},
		})); err != nil {
			return err
		}
	}
	return gdb.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Chat{}, &models.ChatUser{}, &models.Message{}, &models.RefreshToken{})
}
