// Package amqpx carries the broadcast log over a RabbitMQ fanout exchange
// bound to a durable queue.
package amqpx

import (
	"context"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Config struct {
	URL      string
	Exchange string
	Queue    string
	// DialRetries is the number of connection attempts, default 5.
	DialRetries int
	RetryWait   time.Duration
}

// Bus owns one connection and a publishing channel.
type Bus struct {
	cfg  Config
	conn *amqp.Connection

	mu sync.Mutex // guards pub
	ch *amqp.Channel
}

// Dial connects with retries and declares the exchange, queue and binding.
func Dial(cfg Config) (*Bus, error) {
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = 5
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 2 * time.Second
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < cfg.DialRetries; i++ {
		if conn, err = amqp.Dial(cfg.URL); err == nil {
			break
		}
		logger.Warn("rabbitmq dial failed, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(cfg.RetryWait)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "could not connect to RabbitMQ after multiple retries")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errs.WrapMsg(err, "open channel")
	}
	b := &Bus{cfg: cfg, conn: conn, ch: ch}
	if err := b.declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return errs.WrapMsg(err, "declare exchange", "exchange", b.cfg.Exchange)
	}
	if b.cfg.Queue == "" {
		return nil
	}
	q, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return errs.WrapMsg(err, "declare queue", "queue", b.cfg.Queue)
	}
	if err := ch.QueueBind(q.Name, "", b.cfg.Exchange, false, nil); err != nil {
		return errs.WrapMsg(err, "bind queue", "queue", q.Name)
	}
	return nil
}

// Append publishes data as a persistent message. Channels are not safe for
// concurrent publishing.
func (b *Bus) Append(ctx context.Context, producerID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		AppId:        producerID,
		Timestamp:    time.Now(),
		Body:         data,
	})
	if err != nil {
		return errs.WrapMsg(err, "amqp publish", "exchange", b.cfg.Exchange)
	}
	return nil
}

type BatchHandler = func(ctx context.Context, batch [][]byte) error

// Consume delivers batches from the queue until ctx is done. A batch is
// acked after h succeeds and requeued otherwise.
func (b *Bus) Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error {
	if size <= 0 {
		size = 64
	}
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return errs.WrapMsg(err, "open channel")
	}
	defer ch.Close()
	if err := ch.Qos(size, 0, false); err != nil {
		return errs.WrapMsg(err, "qos")
	}
	deliveries, err := ch.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return errs.WrapMsg(err, "consume", "queue", b.cfg.Queue)
	}

	var (
		batch [][]byte
		last  uint64
		timer = time.NewTimer(wait)
	)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := h(ctx, batch); err != nil {
			logger.Error("amqp batch failed, requeued", zap.Int("size", len(batch)), zap.Error(err))
			_ = ch.Nack(last, true, true)
		} else {
			_ = ch.Ack(last, true)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return errs.New("amqp deliveries closed", "queue", b.cfg.Queue)
			}
			batch = append(batch, d.Body)
			last = d.DeliveryTag
			if len(batch) >= size {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(wait)
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	_ = b.ch.Close()
	b.mu.Unlock()
	return b.conn.Close()
}
