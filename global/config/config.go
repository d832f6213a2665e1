package config

import (
	"strings"

	"PRelay/tools/errs"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable name.
const Prefix = "PRELAY_"

// Load reads the configuration from the environment.
func Load() (*AppConfig, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from environ, or from the process
// environment when environ is nil.
func LoadFrom(environ map[string]string) (*AppConfig, error) {
	cfg := &AppConfig{}
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errs.WrapMsg(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	c.Relay.Strategy = strings.ToLower(strings.TrimSpace(c.Relay.Strategy))
	switch c.Relay.Strategy {
	case StrategyDirect, StrategyLog:
	default:
		return errs.New("unknown relay strategy", "strategy", c.Relay.Strategy)
	}

	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	switch c.Registry.Backend {
	case RegistryMemory, RegistryRedis, RegistryMongo:
	case RegistryPostgres:
		if c.Registry.PostgresDSN == "" {
			return errs.New("registry backend postgres requires a dsn", "env", Prefix+"REGISTRY_POSTGRES_DSN")
		}
	default:
		return errs.New("unknown registry backend", "backend", c.Registry.Backend)
	}

	c.LogBus.Backend = strings.ToLower(strings.TrimSpace(c.LogBus.Backend))
	switch c.LogBus.Backend {
	case LogBusKafka, LogBusNats, LogBusRedis, LogBusAMQP:
	default:
		return errs.New("unknown log bus backend", "backend", c.LogBus.Backend)
	}

	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 64
	}
	return nil
}
