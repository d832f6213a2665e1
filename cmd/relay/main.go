package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/relay/bootstrap"
	"PRelay/service/relay/httpapi"
	"PRelay/tools/httpx"

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

	r, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logger.Error("build relay", zap.Error(err))
		os.Exit(1)
	}
	defer r.Close()

	h := httpapi.NewHandler(r.Coord, bootstrap.RelayAuth(cfg.Relay))
	if err := httpx.Serve(ctx, cfg.HTTP.RelayAddr, h.Engine()); err != nil {
		logger.Error("relay stopped", zap.Error(err))
	}
}
