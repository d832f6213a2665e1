package registry

import (
	"context"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// NewBackend builds the backend selected by cfg and prepares its schema.
func NewBackend(ctx context.Context, cfg config.RegistryConfig) (Backend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("registry backend", zap.String("backend", cfg.Backend))
	switch cfg.Backend {
	case config.RegistryMemory:
		return NewMemoryBackend(), nil
	case config.RegistryRedis:
		b, err := NewRedisBackend(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.RegistryPostgres:
		b, err := NewPostgresBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := b.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	case config.RegistryMongo:
		b, err := NewMongoBackend(ctx, MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureIndexes(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	default:
		return nil, errs.New("unknown registry backend", "backend", cfg.Backend)
	}
}
