package natsx

import (
	"context"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type BatchHandler = func(ctx context.Context, batch [][]byte) error

// Consume pulls batches through the durable consumer until ctx is done.
// A batch is acked after h succeeds and nak'ed otherwise.
func (c *Client) Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error {
	if c.cfg.Durable == "" {
		return errs.New("pull consumer requires a durable name")
	}
	if size <= 0 {
		size = 64
	}
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}

	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.PullMaxWaiting(8),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxAckPending(c.cfg.MaxAckPending),
	)
	if err != nil {
		return errs.WrapMsg(err, "pull subscribe", "durable", c.cfg.Durable)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(size, nats.MaxWait(wait))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			logger.Warn("nats fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		batch := make([][]byte, 0, len(msgs))
		for _, m := range msgs {
			batch = append(batch, append([]byte(nil), m.Data...))
		}
		if err := h(ctx, batch); err != nil {
			logger.Error("nats batch failed, will be redelivered", zap.Int("size", len(msgs)), zap.Error(err))
			for _, m := range msgs {
				_ = m.Nak()
			}
			continue
		}
		for _, m := range msgs {
			_ = m.Ack()
		}
	}
}
