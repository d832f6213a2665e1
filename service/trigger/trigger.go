// Package trigger drains the broadcast log in batches and hands each batch to
// the relay's redelivery entry point as one delivery envelope.
package trigger

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/module/protocol"
	"PRelay/service/gateway"
	"PRelay/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderBatchID carries the batch id to the relay for log correlation.
const HeaderBatchID = "X-Batch-Id"

// Source is the consuming side of a log transport.
type Source interface {
	Consume(ctx context.Context, size int, wait time.Duration, h func(ctx context.Context, batch [][]byte) error) error
}

type Options struct {
	RelayURL     string
	Tokens       gateway.TokenSource
	BatchSize    int
	BatchTimeout time.Duration
	Timeout      time.Duration
}

type Trigger struct {
	opts Options
	hc   *http.Client
}

func New(opts Options) *Trigger {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Trigger{opts: opts, hc: &http.Client{Timeout: opts.Timeout}}
}

// Run consumes src until ctx is done.
func (t *Trigger) Run(ctx context.Context, src Source) error {
	logger.Info("trigger started", zap.String("relay", t.opts.RelayURL),
		zap.Int("batchSize", t.opts.BatchSize), zap.Duration("batchTimeout", t.opts.BatchTimeout))
	return src.Consume(ctx, t.opts.BatchSize, t.opts.BatchTimeout, t.Deliver)
}

// Deliver posts one batch. Records that are not server messages are logged
// and dropped. A returned error leaves the batch with the log for
// redelivery; a 4xx from the relay is final and only logged.
func (t *Trigger) Deliver(ctx context.Context, batch [][]byte) error {
	batchID := uuid.NewString()
	msgs := make([]protocol.ServerMessage, 0, len(batch))
	for i, rec := range batch {
		m, err := protocol.DecodeServer(rec)
		if err != nil {
			logger.Warn("skip log record", zap.String("batchId", batchID), zap.Int("index", i), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil
	}

	body, err := protocol.EncodeEnvelope(msgs)
	if err != nil {
		return errs.WrapMsg(err, "encode envelope", "batchId", batchID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.RelayURL, bytes.NewReader(body))
	if err != nil {
		return errs.WrapMsg(err, "build request", "batchId", batchID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderBatchID, batchID)
	if t.opts.Tokens != nil {
		token, err := t.opts.Tokens.Token()
		if err != nil {
			return errs.WrapMsg(err, "token", "batchId", batchID)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "post batch", "batchId", batchID)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Debug("batch delivered", zap.String("batchId", batchID), zap.Int("messages", len(msgs)))
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logger.Error("batch rejected", zap.String("batchId", batchID),
			zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(reply))))
		return nil
	default:
		return errs.ErrDeliveryFailed.WrapMsg("relay failed",
			"batchId", batchID, "status", resp.StatusCode, "body", strings.TrimSpace(string(reply)))
	}
}
