package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 zerolog：dev 环境输出彩色控制台日志，其它环境输出 JSON。
func Init(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = New(env, os.Stdout)
}

func New(env string, out io.Writer) zerolog.Logger {
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(cw).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Str("env", env).Logger()
}
