package kafka

import (
	"context"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BatchHandler processes records in log order. Records are committed only
// after it returns nil.
type BatchHandler = func(ctx context.Context, batch [][]byte) error

// Consumer reads the log topic as a member of a consumer group.
type Consumer struct {
	cfg   Config
	group sarama.ConsumerGroup
}

func NewConsumer(c Config) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka consumer group", "group", c.GroupID)
	}
	return &Consumer{cfg: c, group: group}, nil
}

// Consume blocks until ctx is done, handing batches of at most size
// records, flushed after wait, to h.
func (c *Consumer) Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error {
	go func() {
		for err := range c.group.Errors() {
			logger.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	if size <= 0 {
		size = 1
	}
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	handler := &groupHandler{size: size, wait: wait, h: h}
	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("kafka consume", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	size int
	wait time.Duration
	h    BatchHandler
}

func (g *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	logger.Info("kafka consumer setup", zap.Any("claims", s.Claims()))
	return nil
}

func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("kafka consumer cleanup")
	return nil
}

func (g *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	var (
		batch   [][]byte
		pending []*sarama.ConsumerMessage
		timer   = time.NewTimer(g.wait)
	)
	defer timer.Stop()

	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		if err := g.h(session.Context(), batch); err != nil {
			logger.Error("kafka batch failed, will be redelivered",
				zap.String("topic", claim.Topic()), zap.Int32("partition", claim.Partition()), zap.Error(err))
			return false
		}
		for _, m := range pending {
			session.MarkMessage(m, "")
		}
		batch, pending = nil, nil
		return true
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, msg.Value)
			pending = append(pending, msg)
			if len(batch) >= g.size && !flush() {
				return nil
			}
		case <-timer.C:
			if !flush() {
				return nil
			}
			timer.Reset(g.wait)
		case <-session.Context().Done():
			return nil
		}
	}
}
