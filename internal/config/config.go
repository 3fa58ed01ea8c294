package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	ReplicaDSNs           []string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	PubSubDriver  string
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	KafkaTopic    string

	OTLPEndpoint     string
	ServiceName      string
	TraceSampleRatio float64
}

var defaults = map[string]string{
	"APP_PORT":                    "8080",
	"APP_ENV":                     "dev",
	"DATABASE_DSN":                "host=localhost user=postgres password=postgres dbname=messenger port=5432 sslmode=disable TimeZone=UTC",
	"DATABASE_REPLICA_DSNS":       "",
	"JWT_SECRET":                  defaultJWTSecret,
	"ACCESS_TOKEN_TTL_MINUTES":    "15",
	"REFRESH_TOKEN_TTL_DAYS":      "7",
	"PUBSUB_DRIVER":               "memory",
	"REDIS_ADDR":                  "localhost:6379",
	"REDIS_PASSWORD":              "",
	"KAFKA_BROKERS":               "",
	"KAFKA_TOPIC":                 "chat-membership-events",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_SERVICE_NAME":           "messenger",
	"OTEL_TRACES_SAMPLER_ARG":     "1",
}

// Load 从环境变量（以及可选的 .env 文件）读取配置，非法的数值回退到默认值。
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}

	return Config{
		Port:                  v.GetString("APP_PORT"),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		ReplicaDSNs:           splitList(v.GetString("DATABASE_REPLICA_DSNS"), ";"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		Env:                   v.GetString("APP_ENV"),
		AccessTokenTTLMinutes: positiveInt(v, "ACCESS_TOKEN_TTL_MINUTES"),
		RefreshTokenTTLDays:   positiveInt(v, "REFRESH_TOKEN_TTL_DAYS"),
		PubSubDriver:          strings.ToLower(v.GetString("PUBSUB_DRIVER")),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		KafkaBrokers:          splitList(v.GetString("KAFKA_BROKERS"), ","),
		KafkaTopic:            v.GetString("KAFKA_TOPIC"),
		OTLPEndpoint:          v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:           v.GetString("OTEL_SERVICE_NAME"),
		TraceSampleRatio:      sampleRatio(v.GetString("OTEL_TRACES_SAMPLER_ARG")),
	}
}

// Validate 校验启动所需的关键配置；非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.Env != "dev" && (cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	switch cfg.PubSubDriver {
	case "", "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for redis pubsub")
		}
	default:
		return errors.New("PUBSUB_DRIVER must be memory or redis")
	}
	return nil
}

func positiveInt(v *viper.Viper, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n <= 0 {
		n, _ = strconv.Atoi(defaults[key])
	}
	return n
}

// sampleRatio 解析采样率，越界或非法时全量采样。
func sampleRatio(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || f > 1 {
		return 1
	}
	return f
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
