// Package kafka carries the broadcast log over a Kafka topic.
package kafka

import (
	"context"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// HeaderProducer names the relay instance that appended a record.
const HeaderProducer = "producer-id"

// Producer appends records to the topic with a synchronous producer.
type Producer struct {
	topic  string
	client sarama.Client
	prod   sarama.SyncProducer
}

func NewProducer(c Config) (*Producer, error) {
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if err := EnsureTopic(client, c); err != nil {
		_ = client.Close()
		return nil, err
	}
	prod, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	return &Producer{topic: c.Topic, client: client, prod: prod}, nil
}

// Append writes data keyed by producerID. The sync producer does not take a
// context; ctx is checked before sending.
func (p *Producer) Append(ctx context.Context, producerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(producerID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderProducer), Value: []byte(producerID)},
		},
	}
	partition, offset, err := p.prod.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", p.topic)
	}
	logger.Debug("kafka appended", zap.String("topic", p.topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (p *Producer) Close() error {
	err := p.prod.Close()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}
