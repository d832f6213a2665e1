// Package bootstrap assembles a relay coordinator from configuration. Both
// cmd/relay and the in-process mode of cmd/gateway use it.
package bootstrap

import (
	"context"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/gateway"
	"PRelay/service/logbus"
	"PRelay/service/registry"
	"PRelay/service/relay"
	"PRelay/tools/security"

	"go.uber.org/zap"
)

// Relay owns the coordinator and the connections behind it.
type Relay struct {
	Coord   *relay.Coordinator
	closers []func() error
}

// Build opens the registry, the push client and, in log strategy, the log
// producer.
func Build(ctx context.Context, cfg *config.AppConfig) (*Relay, error) {
	backend, err := registry.NewBackend(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	r := &Relay{closers: []func() error{backend.Close}}

	pusher := gateway.NewClient(cfg.Gateway.Endpoint, PushTokens(cfg.Gateway), cfg.Gateway.PushTimeout)
	direct := relay.NewDirectPush(pusher, cfg.Relay.Concurrency)

	var publisher relay.Publisher = direct
	if cfg.Relay.Strategy == config.StrategyLog {
		bus, err := logbus.Open(ctx, cfg.LogBus, cfg.NodeID)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, bus.Close)
		publisher = relay.NewLogIndirect(bus, cfg.Relay.ProducerID)
	}

	logger.Info("relay assembled",
		zap.String("strategy", cfg.Relay.Strategy),
		zap.String("registry", cfg.Registry.Backend),
		zap.String("gateway", cfg.Gateway.Endpoint))
	r.Coord = relay.NewCoordinator(backend, publisher, relay.WithDelivery(direct))
	return r, nil
}

// Close releases everything Build opened, newest first.
func (r *Relay) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}
}

// PushTokens picks the credential for the gateway push API: a pre-issued
// token wins over a signing secret. Nil means no Authorization header.
func PushTokens(cfg config.GatewayConfig) gateway.TokenSource {
	switch {
	case cfg.Token != "":
		return gateway.StaticToken(cfg.Token)
	case cfg.Secret != "":
		return &gateway.JWTSource{Opts: security.DefaultOptions([]byte(cfg.Secret)), Subject: "relay"}
	}
	return nil
}

// PushAuth is the verifier side of PushTokens for the gateway.
func PushAuth(cfg config.GatewayConfig) *security.Options {
	if cfg.Secret == "" {
		return nil
	}
	opts := security.DefaultOptions([]byte(cfg.Secret))
	return &opts
}

// RelayAuth guards the relay's entry points when a secret is configured.
func RelayAuth(cfg config.RelayConfig) *security.Options {
	if cfg.Secret == "" {
		return nil
	}
	opts := security.DefaultOptions([]byte(cfg.Secret))
	return &opts
}

// RelayTokens mints tokens for callers of the relay.
func RelayTokens(cfg config.RelayConfig, subject string) gateway.TokenSource {
	if cfg.Secret == "" {
		return nil
	}
	return &gateway.JWTSource{Opts: security.DefaultOptions([]byte(cfg.Secret)), Subject: subject}
}
