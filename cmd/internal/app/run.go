package app

import (
	"context"
	"os/signal"
	"syscall"

	"nexus/cmd/internal/conf"
)

// Run is the entrypoint used by `nexus serve`. src carries the merged
// file and environment config.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(src *conf.Source) error {
	cfg := LoadConfig(src)
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, src, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
