// Package logbus selects the broadcast log transport: Kafka, NATS
// JetStream, a Redis stream or RabbitMQ.
package logbus

import (
	"context"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/amqpx"
	"PRelay/service/kafka"
	"PRelay/service/natsx"
	"PRelay/service/storage"
	redisx "PRelay/service/storage/redis"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// BatchHandler receives log records in order.
type BatchHandler = func(ctx context.Context, batch [][]byte) error

// Producer appends records; it satisfies relay.Log.
type Producer interface {
	Append(ctx context.Context, producerID string, data []byte) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error
	Close() error
}

// Bus is both ends of one transport.
type Bus interface {
	Producer
	Consumer
}

// Open connects the transport selected by cfg.Backend.
func Open(ctx context.Context, cfg config.LogBusConfig, consumerName string) (Bus, error) {
	logger.Info("log bus", zap.String("backend", cfg.Backend))
	switch cfg.Backend {
	case config.LogBusKafka:
		return openKafka(cfg)
	case config.LogBusNats:
		c, err := natsx.Connect(natsx.Config{
			Servers: cfg.NatsServers,
			Name:    consumerName,
			Stream:  cfg.NatsStream,
			Subject: cfg.NatsSubject,
			Durable: cfg.NatsDurable,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.LogBusRedis:
		rdb, err := redisx.NewClient(ctx, redisx.Config{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		return &redisBus{
			StreamLog: storage.NewStreamLog(rdb, storage.StreamConfig{
				Stream:   cfg.RedisStream,
				Group:    cfg.RedisGroup,
				Consumer: consumerName,
				MaxLen:   cfg.RedisMaxLen,
			}),
			closeFn: rdb.Close,
		}, nil
	case config.LogBusAMQP:
		b, err := amqpx.Dial(amqpx.Config{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange, Queue: cfg.AMQPQueue})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errs.New("unknown log bus backend", "backend", cfg.Backend)
	}
}

type redisBus struct {
	*storage.StreamLog
	closeFn func() error
}

func (r *redisBus) Close() error { return r.closeFn() }

// kafkaBus opens the producer eagerly and the consumer group on first use,
// so a relay that only appends never joins the group.
type kafkaBus struct {
	cfg kafka.Config
	*kafka.Producer
	consumer *kafka.Consumer
}

func openKafka(cfg config.LogBusConfig) (*kafkaBus, error) {
	kc := kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroupID}
	p, err := kafka.NewProducer(kc)
	if err != nil {
		return nil, err
	}
	return &kafkaBus{cfg: kc, Producer: p}, nil
}

func (k *kafkaBus) Consume(ctx context.Context, size int, wait time.Duration, h BatchHandler) error {
	if k.consumer == nil {
		c, err := kafka.NewConsumer(k.cfg)
		if err != nil {
			return err
		}
		k.consumer = c
	}
	return k.consumer.Consume(ctx, size, wait, h)
}

func (k *kafkaBus) Close() error {
	err := k.Producer.Close()
	if k.consumer != nil {
		if cerr := k.consumer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
