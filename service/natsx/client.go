// Package natsx carries the broadcast log over a NATS JetStream stream.
package natsx

import (
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Servers       []string
	Name          string
	Stream        string
	Subject       string
	Durable       string
	ReconnectWait time.Duration
	Timeout       time.Duration
	AckWait       time.Duration
	MaxAckPending int
}

func (c *Config) setDefaults() error {
	if len(c.Servers) == 0 {
		return errs.New("nats servers missing")
	}
	if c.Stream == "" || c.Subject == "" {
		return errs.New("nats stream and subject are required")
	}
	if c.Name == "" {
		c.Name = "prelay"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.AckWait == 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending == 0 {
		c.MaxAckPending = 1024
	}
	return nil
}

// Client is a connection with a JetStream context bound to the log stream.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
}

// Connect dials NATS and makes sure the stream exists.
func Connect(cfg Config) (*Client, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(4096))
	if err != nil {
		nc.Close()
		return nil, errs.WrapMsg(err, "init jetstream")
	}
	c := &Client{cfg: cfg, nc: nc, js: js}
	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errs.WrapMsg(err, "stream info", "stream", c.cfg.Stream)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return errs.WrapMsg(err, "add stream", "stream", c.cfg.Stream)
	}
	logger.Info("nats stream created", zap.String("stream", c.cfg.Stream), zap.String("subject", c.cfg.Subject))
	return nil
}

// Close drains the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}
