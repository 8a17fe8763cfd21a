// Package messaging wraps the NATS connection shared by the Tooty services:
// chat fan-out to gateways and request/reply calls to the moderator.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects used across Tooty services.
const (
	SubjectChat       = "chat"             // + .<kind>.<conversation_id>
	SubjectModeration = "moderation.check" // request/reply

	// QueueModerators load-balances moderation requests across moderator
	// replicas.
	QueueModerators = "moderators"
)

// ChatSubject returns the subject a conversation's messages are published on.
func ChatSubject(kind, conversationID string) string {
	return SubjectChat + "." + kind + "." + conversationID
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "tooty",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Client is a NATS connection plus the subscriptions made through it, kept
// so they can be drained on Close.
type Client struct {
	conn *nats.Conn
	log  *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewClient connects to NATS. It fails if the initial connection fails;
// later disconnects are retried according to cfg.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	log = log.With(zap.String("component", "nats"))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}
	log.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &Client{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// PublishChat publishes an accepted message to its conversation subject.
func (c *Client) PublishChat(kind, conversationID string, data []byte) error {
	return c.Publish(ChatSubject(kind, conversationID), data)
}

// Request sends data to subject and waits for a single reply, bounded by
// ctx.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("messaging: request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe registers handler for subject under key. A previous
// subscription with the same key is replaced.
func (c *Client) Subscribe(key, subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}
	c.store(key, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group, so each message is
// handled by one member of the group.
func (c *Client) QueueSubscribe(key, subject, queue string, handler nats.MsgHandler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("messaging: queue subscribe %s: %w", subject, err)
	}
	c.store(key, sub)
	return nil
}

// SubscribeChat delivers every message published to a conversation. key
// distinguishes subscribers of the same conversation on one client.
func (c *Client) SubscribeChat(key, kind, conversationID string, handler func(data []byte)) error {
	return c.Subscribe(key, ChatSubject(kind, conversationID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Unsubscribe removes the subscription stored under key.
func (c *Client) Unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("messaging: no subscription for %s", key)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains subscriptions and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", zap.String("key", key), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("drain connection", zap.Error(err))
	}
}

func (c *Client) store(key string, sub *nats.Subscription) {
	c.mu.Lock()
	old := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
}
