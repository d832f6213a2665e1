package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/logbus"
	"PRelay/service/relay/bootstrap"
	"PRelay/service/trigger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := logbus.Open(ctx, cfg.LogBus, cfg.NodeID)
	if err != nil {
		logger.Error("open log bus", zap.Error(err))
		os.Exit(1)
	}
	defer bus.Close()

	t := trigger.New(trigger.Options{
		RelayURL:     cfg.Trigger.RelayURL,
		Tokens:       bootstrap.RelayTokens(cfg.Relay, "trigger"),
		BatchSize:    cfg.Trigger.BatchSize,
		BatchTimeout: cfg.Trigger.BatchTimeout,
	})
	if err := t.Run(ctx, bus); err != nil {
		logger.Error("trigger stopped", zap.Error(err))
	}
}
