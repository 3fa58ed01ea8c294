// chatctl 是 messenger 的命令行客户端。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("chatctl")
		stop()
		os.Exit(1)
	}
}
