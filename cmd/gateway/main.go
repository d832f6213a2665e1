package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/gateway/local"
	"PRelay/service/relay/bootstrap"
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

	var fwd local.Forwarder
	if cfg.Gateway.InProcess {
		r, err := bootstrap.Build(ctx, cfg)
		if err != nil {
			logger.Error("build relay", zap.Error(err))
			os.Exit(1)
		}
		defer r.Close()
		fwd = local.InProcess(r.Coord)
		logger.Info("forwarding events in process")
	} else {
		fwd = local.NewHTTPForwarder(cfg.Gateway.RelayURL,
			bootstrap.RelayTokens(cfg.Relay, "gateway"), cfg.Gateway.PushTimeout)
		logger.Info("forwarding events", zap.String("relay", cfg.Gateway.RelayURL))
	}

	srv := local.New(fwd, local.Options{
		Auth:           bootstrap.PushAuth(cfg.Gateway),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		NodeID:         cfg.Gateway.NodeID,
	})
	if err := httpx.Serve(ctx, cfg.HTTP.GatewayAddr, srv.Engine()); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
	}
	srv.Wait()
}
