package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup is shared by every gerencia replica so each ingest event is
// handled once.
const QueueGroup = "gerencia"

// Handler receives one message.
type Handler func(subject string, data []byte)

// Publisher is the publish half of Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// Identified events carry a stable id used as the NATS message id.
type Identified interface {
	MessageID() string
}

// Client wraps the NATS connection used for lead events and ingest triggers.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient connects to NATS. The connection keeps retrying in the
// background, so an unreachable server does not fail startup.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "hermes")

	opts := []nats.Option{
		nats.Name("gerencia"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "server", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Error("nats async error", "subject", sub.Subject, "error", err)
				return
			}
			log.Error("nats async error", "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: log}, nil
}

// Publish sends data as JSON. Events implementing Identified get a
// Nats-Msg-Id header so JetStream streams can drop redeliveries.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	if id, ok := data.(Identified); ok && id.MessageID() != "" {
		msg.Header.Set(nats.MsgIdHdr, id.MessageID())
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe joins QueueGroup on subject. A panicking handler is logged and
// the subscription stays alive.
func (c *Client) Subscribe(subject string, handler Handler) error {
	_, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panic", "subject", msg.Subject, "bytes", len(msg.Data), "panic", r)
			}
		}()
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains subscriptions so in-flight handlers finish, then closes.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
