package natsx

import (
	"context"

	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/ids"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const HeaderProducer = "Producer-Id"

// Append publishes data to the log subject and waits for the stream ack.
// Every record carries a unique Nats-Msg-Id so a retried publish is
// deduplicated by the server.
func (c *Client) Append(ctx context.Context, producerID string, data []byte) error {
	msg := nats.NewMsg(c.cfg.Subject)
	msg.Data = data
	msg.Header.Set(HeaderProducer, producerID)
	msg.Header.Set(nats.MsgIdHdr, producerID+"-"+ids.GenerateString())

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", c.cfg.Subject)
	}
	logger.Debug("nats appended", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}
