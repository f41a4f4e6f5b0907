// Package cache provides the short-lived key store used for webhook
// idempotency.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Provider stores short-lived markers. Claim is the atomic set-if-absent used
// to process each webhook delivery once.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider string
	// Redis is required when Provider is "redis". The caller owns the client.
	Redis *redis.Client
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis cache provider requires a redis client")
		}
		return NewRedisProvider(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// WebhookKey namespaces a provider event or payment id.
func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}
