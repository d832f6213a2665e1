// Package relay handles gateway connection events. Each call is independent:
// it opens a registry session, applies one transition and fans messages out
// through a Publisher.
package relay

import (
	"context"
	"net/http"
	"time"

	"PRelay/logger"
	"PRelay/module/protocol"
	"PRelay/service/registry"
	"PRelay/tools/decode"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"go.uber.org/zap"
)

const (
	ackBroadcastSent = "Broadcast sent"
	ackDisconnected  = "Disconnected"
	ackDelivered     = "Delivered"

	notRegisteredHint = "Not registered. Send connect message first."
)

type connectParams struct {
	UserID string `json:"user_id"`
}

// Coordinator applies connection events to the registry.
type Coordinator struct {
	backend   registry.Backend
	publisher Publisher
	// delivery pushes trigger batches; nil when this relay cannot reach the
	// gateway directly.
	delivery *DirectPush
	now      func() time.Time
}

type Option func(*Coordinator)

// WithDelivery enables Redeliver.
func WithDelivery(d *DirectPush) Option {
	return func(c *Coordinator) { c.delivery = d }
}

// WithClock overrides the time source used for missing connect timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(backend registry.Backend, publisher Publisher, opts ...Option) *Coordinator {
	safe.MustNotNil(backend, "registry backend")
	safe.MustNotNil(publisher, "publisher")
	c := &Coordinator{backend: backend, publisher: publisher, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.delivery == nil {
		if d, ok := publisher.(*DirectPush); ok {
			c.delivery = d
		}
	}
	return c
}

// HandleEvent dispatches ev by event type and always produces a reply.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) (resp Response) {
	connID := ev.RequestContext.ConnectionID
	logger.Info("event", zap.String("eventType", string(ev.RequestContext.EventType)), zap.String("connectionId", connID))

	defer func() {
		if r := recover(); r != nil {
			err := errs.ErrPanic(r)
			logger.Error("event handler panicked", zap.String("connectionId", connID), zap.Error(err))
			resp = ErrorReply(err)
		}
	}()

	var err error
	switch ev.RequestContext.EventType {
	case EventConnect:
		resp, err = c.connect(ctx, ev)
	case EventMessage:
		resp, err = c.message(ctx, ev)
	case EventDisconnect:
		resp, err = c.disconnect(ctx, ev)
	default:
		err = errs.ErrUnknownEventType.WrapMsg("", "eventType", ev.RequestContext.EventType)
	}
	if err != nil {
		logger.Error("event failed",
			zap.String("eventType", string(ev.RequestContext.EventType)),
			zap.String("connectionId", connID),
			zap.Error(err))
		return ErrorReply(err)
	}
	return resp
}

func (c *Coordinator) open(ctx context.Context) (*registry.Registry, error) {
	return registry.Open(ctx, c.backend)
}

func (c *Coordinator) connect(ctx context.Context, ev Event) (Response, error) {
	var params connectParams
	if ev.QueryStringParameters != nil {
		p, err := decode.Decode[connectParams](ev.QueryStringParameters)
		if err != nil {
			return Response{}, errs.ErrMissingUserID.WithCause(err, "decode query")
		}
		params = *p
	}
	if params.UserID == "" {
		return Response{}, errs.ErrMissingUserID.Wrap()
	}

	reg, err := c.open(ctx)
	if err != nil {
		return Response{}, err
	}
	defer reg.Close()

	connID := ev.RequestContext.ConnectionID
	joined := protocol.NewUserJoined(params.UserID)

	// Direct push tells existing peers first, so the newcomer never receives
	// its own join notice.
	if c.publisher.AnnounceFirst() {
		if err := c.announce(ctx, reg, joined); err != nil {
			return Response{}, err
		}
	}
	if err := reg.Put(ctx, params.UserID, connID, ev.ConnectedTime(c.now)); err != nil {
		return Response{}, err
	}
	if !c.publisher.AnnounceFirst() {
		if err := c.announce(ctx, reg, joined); err != nil {
			return Response{}, err
		}
	}

	logger.Info("user connected", zap.String("userId", params.UserID), zap.String("connectionId", connID))
	return Reply(http.StatusOK, protocol.NewConnected(params.UserID)), nil
}

func (c *Coordinator) message(ctx context.Context, ev Event) (Response, error) {
	raw, err := protocol.DecodeBody(ev.Body, ev.IsBase64Encoded)
	if err != nil {
		return Response{}, err
	}
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		return Response{}, err
	}

	reg, err := c.open(ctx)
	if err != nil {
		return Response{}, err
	}
	defer reg.Close()

	connID := ev.RequestContext.ConnectionID
	switch m := msg.(type) {
	case protocol.Send:
		sender, found, err := reg.GetUserByConnection(ctx, connID)
		if err != nil {
			return Response{}, err
		}
		if !found {
			if err := c.publisher.Notify(ctx, connID, protocol.NewError(notRegisteredHint)); err != nil {
				logger.Warn("notify unregistered sender", zap.String("connectionId", connID), zap.Error(err))
			}
			return Response{}, errs.ErrNotRegistered.WrapMsg("", "connectionId", connID)
		}
		if err := c.publisher.Publish(ctx, reg, protocol.NewBroadcast(sender, m.Message), connID); err != nil {
			return Response{}, err
		}
		return Reply(http.StatusOK, protocol.NewAck(ackBroadcastSent)), nil

	case protocol.Disconnect:
		if err := reg.RemoveByConnection(ctx, connID); err != nil {
			return Response{}, err
		}
		logger.Info("graceful disconnect", zap.String("connectionId", connID))
		return Reply(http.StatusOK, protocol.NewAck(ackDisconnected)), nil

	default:
		return Response{}, errs.ErrUnknownVariant.WrapMsg("", "type", msg.Tag())
	}
}

func (c *Coordinator) disconnect(ctx context.Context, ev Event) (Response, error) {
	reg, err := c.open(ctx)
	if err != nil {
		return Response{}, err
	}
	defer reg.Close()

	connID := ev.RequestContext.ConnectionID
	userID, found, err := reg.GetUserByConnection(ctx, connID)
	if err != nil {
		return Response{}, err
	}
	if err := reg.RemoveByConnection(ctx, connID); err != nil {
		return Response{}, err
	}
	logger.Info("connection closed",
		zap.String("connectionId", connID),
		zap.String("userId", userID),
		zap.String("reason", ev.RequestContext.DisconnectReason),
		zap.Int("status", ev.RequestContext.DisconnectStatusCode))

	if found {
		if err := c.announce(ctx, reg, protocol.NewUserLeft(userID)); err != nil {
			return Response{}, err
		}
	}
	return Reply(http.StatusOK, protocol.NewAck(ackDisconnected)), nil
}

// announce publishes a presence change. A log append failure is logged and
// does not fail the event; registry failures do.
func (c *Coordinator) announce(ctx context.Context, reg *registry.Registry, msg protocol.ServerMessage) error {
	err := c.publisher.Publish(ctx, reg, msg, "")
	if err == nil {
		return nil
	}
	if errs.Code(err) == errs.PublishFailedCode {
		logger.Error("announce failed", zap.String("type", msg.Tag()), zap.Error(err))
		return nil
	}
	return err
}

// Redeliver pushes every message of a delivery envelope to all registered
// connections, in envelope order.
func (c *Coordinator) Redeliver(ctx context.Context, raw []byte) Response {
	if c.delivery == nil {
		return ErrorReply(errs.ErrInternal.WrapMsg("redelivery not configured"))
	}
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		logger.Warn("bad delivery envelope", zap.Error(err))
		return ErrorReply(err)
	}

	reg, err := c.open(ctx)
	if err != nil {
		return ErrorReply(err)
	}
	defer reg.Close()

	for _, m := range env.Messages {
		if err := c.delivery.Publish(ctx, reg, m, ""); err != nil {
			logger.Error("redeliver failed", zap.String("type", m.Tag()), zap.Error(err))
			return ErrorReply(err)
		}
	}
	logger.Info("redelivered", zap.Int("messages", len(env.Messages)))
	return Reply(http.StatusOK, protocol.NewAck(ackDelivered))
}
