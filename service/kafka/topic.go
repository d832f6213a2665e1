package kafka

import (
	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnsureTopic creates the log topic when it does not exist yet.
func EnsureTopic(client sarama.Client, c Config) error {
	c.setDefaults()
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return errs.WrapMsg(err, "kafka admin")
	}
	// closing the admin would close the shared client

	desc, err := admin.DescribeTopics([]string{c.Topic})
	if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
		logger.Debug("kafka topic exists", zap.String("topic", c.Topic), zap.Int("partitions", len(desc[0].Partitions)))
		return nil
	}

	td := &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":   strPtr("delete"),
			"compression.type": strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(c.Topic, td, false); err != nil {
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		var terr *sarama.TopicError
		if errors.As(err, &terr) && terr.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		return errs.WrapMsg(err, "create topic", "topic", c.Topic)
	}
	logger.Info("kafka topic created", zap.String("topic", c.Topic), zap.Int32("partitions", c.Partitions))
	return nil
}

func strPtr(s string) *string { return &s }
