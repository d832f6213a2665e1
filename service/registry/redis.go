package registry

import (
	"context"
	"strconv"
	"time"

	redisx "PRelay/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Prefix namespaces every key, default "relay".
	Prefix string
}

// RedisBackend stores records as:
//
//	<prefix>:conn:<connId>  hash {user_id, connected_at}
//	<prefix>:user:<userId>  set of connection ids
//	<prefix>:conns          set of all connection ids
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisBackend dials redis and pings it.
func NewRedisBackend(ctx context.Context, c RedisConfig) (*RedisBackend, error) {
	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	b := NewRedisBackendFromClient(rdb, c.Prefix)
	b.owned = true
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client. The client is not
// closed by Close.
func NewRedisBackendFromClient(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "relay"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Open(context.Context) (Session, error) {
	return redisSession{b}, nil
}

func (b *RedisBackend) Close() error {
	if b.owned {
		return b.rdb.Close()
	}
	return nil
}

func (b *RedisBackend) connKey(id string) string { return b.prefix + ":conn:" + id }
func (b *RedisBackend) userKey(id string) string { return b.prefix + ":user:" + id }
func (b *RedisBackend) allKey() string           { return b.prefix + ":conns" }

const (
	fieldUser        = "user_id"
	fieldConnectedAt = "connected_at"
)

type redisSession struct {
	b *RedisBackend
}

func (s redisSession) Close() error { return nil }

func (s redisSession) DeleteByUser(ctx context.Context, userID string) error {
	b := s.b
	ids, err := b.rdb.SMembers(ctx, b.userKey(userID)).Result()
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Del(ctx, b.connKey(id))
			p.SRem(ctx, b.allKey(), id)
		}
		p.Del(ctx, b.userKey(userID))
		return nil
	})
	return err
}

func (s redisSession) Insert(ctx context.Context, c Connection) error {
	b := s.b
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, b.connKey(c.ConnectionID),
			fieldUser, c.UserID,
			fieldConnectedAt, c.ConnectedAt.UnixMilli(),
		)
		p.SAdd(ctx, b.userKey(c.UserID), c.ConnectionID)
		p.SAdd(ctx, b.allKey(), c.ConnectionID)
		return nil
	})
	return err
}

func (s redisSession) DeleteByConnection(ctx context.Context, connectionID string) error {
	b := s.b
	userID, found, err := s.UserByConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.connKey(connectionID))
		p.SRem(ctx, b.allKey(), connectionID)
		if found {
			p.SRem(ctx, b.userKey(userID), connectionID)
		}
		return nil
	})
	return err
}

func (s redisSession) UserByConnection(ctx context.Context, connectionID string) (string, bool, error) {
	userID, err := s.b.rdb.HGet(ctx, s.b.connKey(connectionID), fieldUser).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

func (s redisSession) List(ctx context.Context) ([]Connection, error) {
	b := s.b
	ids, err := b.rdb.SMembers(ctx, b.allKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Connection{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, b.connKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Connection, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		userID, ok := fields[fieldUser]
		if !ok {
			// set member without a hash, left behind by an interrupted delete
			continue
		}
		ms, _ := strconv.ParseInt(fields[fieldConnectedAt], 10, 64)
		out = append(out, Connection{
			UserID:       userID,
			ConnectionID: ids[i],
			ConnectedAt:  time.UnixMilli(ms).UTC(),
		})
	}
	sortConnections(out)
	return out, nil
}
