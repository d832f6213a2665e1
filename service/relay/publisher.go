package relay

import (
	"context"
	"sync"

	"PRelay/logger"
	"PRelay/module/protocol"
	"PRelay/service/gateway"
	"PRelay/service/registry"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher sends server messages outward to connected users.
type Publisher interface {
	// Publish fans msg out to every registered connection except exclude.
	Publish(ctx context.Context, reg *registry.Registry, msg protocol.ServerMessage, exclude string) error
	// Notify delivers msg to a single connection outside the reply path.
	Notify(ctx context.Context, connectionID string, msg protocol.ServerMessage) error
	// AnnounceFirst reports whether the join announcement goes out before
	// the new connection is registered.
	AnnounceFirst() bool
}

// Log is an append-only broadcast log consumed by the trigger.
type Log interface {
	Append(ctx context.Context, producerID string, data []byte) error
}

// DirectPush pushes every message straight to each connection through the
// gateway management API.
type DirectPush struct {
	pusher      gateway.Pusher
	concurrency int
}

func NewDirectPush(p gateway.Pusher, concurrency int) *DirectPush {
	safe.MustNotNil(p, "pusher")
	return &DirectPush{pusher: p, concurrency: safe.DefaultInt(concurrency, 64)}
}

func (d *DirectPush) AnnounceFirst() bool { return true }

func (d *DirectPush) Notify(ctx context.Context, connectionID string, msg protocol.ServerMessage) error {
	return d.pusher.Push(ctx, connectionID, protocol.Encode(msg))
}

// Publish pushes concurrently and waits for every attempt. A failed push is
// logged and its user removed from the registry; it is never reported to
// the caller.
func (d *DirectPush) Publish(ctx context.Context, reg *registry.Registry, msg protocol.ServerMessage, exclude string) error {
	conns, err := reg.ListAll(ctx)
	if err != nil {
		return err
	}
	data := protocol.Encode(msg)

	var (
		mu    sync.Mutex
		stale []registry.Connection
	)
	g := errgroup.Group{}
	g.SetLimit(d.concurrency)
	for _, c := range conns {
		if c.ConnectionID == exclude {
			continue
		}
		c := c
		g.Go(func() error {
			err := safe.Call(func() error { return d.pusher.Push(ctx, c.ConnectionID, data) })
			if err != nil {
				logger.Warn("push failed",
					zap.String("connectionId", c.ConnectionID),
					zap.String("userId", c.UserID),
					zap.String("type", msg.Tag()),
					zap.Error(err))
				mu.Lock()
				stale = append(stale, c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// registry sessions are not shared across goroutines, prune afterwards
	for _, c := range stale {
		if err := reg.RemoveByUser(ctx, c.UserID); err != nil {
			logger.Error("prune stale connection", zap.String("userId", c.UserID), zap.Error(err))
		}
	}
	logger.Debug("fan-out done",
		zap.String("type", msg.Tag()),
		zap.Int("targets", len(conns)),
		zap.Int("failed", len(stale)))
	return nil
}

// LogIndirect appends every message to the broadcast log. Delivery happens
// later through the trigger, to every connection including the sender.
type LogIndirect struct {
	log        Log
	producerID string
}

func NewLogIndirect(l Log, producerID string) *LogIndirect {
	safe.MustNotNil(l, "log")
	return &LogIndirect{log: l, producerID: safe.DefaultString(producerID, "ws-relay")}
}

func (l *LogIndirect) AnnounceFirst() bool { return false }

// Notify is a no-op, the log has no per-connection addressing.
func (l *LogIndirect) Notify(context.Context, string, protocol.ServerMessage) error { return nil }

func (l *LogIndirect) Publish(ctx context.Context, _ *registry.Registry, msg protocol.ServerMessage, _ string) error {
	if err := l.log.Append(ctx, l.producerID, protocol.Encode(msg)); err != nil {
		return errs.ErrPublishFailed.WithCause(err, "append", "type", msg.Tag())
	}
	return nil
}
