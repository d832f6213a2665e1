// Package storage carries the broadcast log over a Redis stream read by a
// consumer group.
package storage

import (
	"context"
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldProducer = "producer"
	fieldData     = "data"
)

type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen caps the stream approximately; 0 keeps everything.
	MaxLen int64
}

type BatchHandler = func(ctx context.Context, batch [][]byte) error

// StreamLog appends to and consumes from one stream.
type StreamLog struct {
	rdb redis.UniversalClient
	cfg StreamConfig
}

func NewStreamLog(rdb redis.UniversalClient, cfg StreamConfig) *StreamLog {
	if cfg.Consumer == "" {
		cfg.Consumer = "trigger"
	}
	return &StreamLog{rdb: rdb, cfg: cfg}
}

func (l *StreamLog) Append(ctx context.Context, producerID string, data []byte) error {
	args := &redis.XAddArgs{
		Stream: l.cfg.Stream,
		Values: map[string]any{fieldProducer: producerID, fieldData: data},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return errs.WrapMsg(err, "xadd", "stream", l.cfg.Stream)
	}
	logger.Debug("stream appended", zap.String("stream", l.cfg.Stream), zap.String("id", id))
	return nil
}

// EnsureGroup creates the consumer group, and the stream with it, if needed.
func (l *StreamLog) EnsureGroup(ctx context.Context) error {
	err := l.rdb.XGroupCreateMkStream(ctx, l.cfg.Stream, l.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errs.WrapMsg(err, "xgroup create", "stream", l.cfg.Stream, "group", l.cfg.Group)
	}
	return nil
}

// Consume reads batches through the consumer group until ctx is done.
// Entries are acknowledged after h succeeds; a failed batch stays pending
// and is read again before new entries.
func (l *StreamLog) Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error {
	if size <= 0 {
		size = 64
	}
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	if err := l.EnsureGroup(ctx); err != nil {
		return err
	}

	// "0" replays this consumer's pending entries, ">" reads new ones
	start := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.cfg.Group,
			Consumer: l.cfg.Consumer,
			Streams:  []string{l.cfg.Stream, start},
			Count:    int64(size),
			Block:    wait,
		}).Result()
		if errors.Is(err, redis.Nil) {
			start = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("xreadgroup", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		var (
			batch [][]byte
			ids   []string
		)
		for _, s := range streams {
			for _, m := range s.Messages {
				ids = append(ids, m.ID)
				if v, ok := m.Values[fieldData].(string); ok {
					batch = append(batch, []byte(v))
				}
			}
		}
		if len(ids) == 0 {
			// pending list drained
			start = ">"
			continue
		}

		if err := h(ctx, batch); err != nil {
			logger.Error("stream batch failed, will be redelivered", zap.Int("size", len(ids)), zap.Error(err))
			start = "0"
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		if err := l.rdb.XAck(ctx, l.cfg.Stream, l.cfg.Group, ids...).Err(); err != nil {
			logger.Warn("xack", zap.Error(err))
		}
	}
}

func (l *StreamLog) Close() error { return nil }
