// Package notify publishes typed outbound events after successful ledger
// mutations. Delivery (push, email) belongs to a separate collaborator that
// consumes the channel; the core only guarantees the event is emitted.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Event describes one transaction outcome a user should hear about.
type Event struct {
	UserID      uint            `json:"user_id"`
	Kind        string          `json:"kind"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	At          time.Time       `json:"at"`
}

// Publisher emits events. Publishing is fire-and-forget: failures are logged,
// never propagated into the payment path.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher returns a Publisher writing to the given channel.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish serializes the event and pushes it onto the channel.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode notification event")
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": e.UserID,
			"kind":    e.Kind,
			"error":   err.Error(),
		}).Warn("Failed to publish notification event")
	}
}

// Nop discards events. Used in tests and when redis is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
