// Package redis provides a Redis implementation of billing.EventLedger.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/orgbilling/pkg/billing"
)

// Ledger implements billing.EventLedger using Redis keys with a TTL
type Ledger struct {
	client redis.UniversalClient
	config Config
}

var _ billing.EventLedger = (*Ledger)(nil)

// Config holds Redis ledger configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "orgbilling:")
	KeyPrefix string

	// EventTTL is how long a processed event id is remembered (0 = no expiration).
	// Stripe retries deliveries for up to three days.
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "orgbilling:",
		EventTTL:  7 * 24 * time.Hour,
	}
}

// New creates a new Redis ledger
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "orgbilling:"
	}
	if config.EventTTL < 0 {
		return nil, fmt.Errorf("event ttl must not be negative")
	}

	return &Ledger{client: client, config: config}, nil
}

// Processed implements billing.EventLedger
func (l *Ledger) Processed(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements billing.EventLedger. The first mark wins and keeps its TTL.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	err := l.client.SetArgs(ctx, l.eventKey(eventID), eventType, redis.SetArgs{
		Mode: "NX",
		TTL:  l.config.EventTTL,
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) eventKey(eventID string) string {
	return l.config.KeyPrefix + "event:" + eventID
}
