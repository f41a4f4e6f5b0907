package session

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Provider string
	// Redis is required when Provider is "redis".
	Redis *redis.Client
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisStore(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported session store provider: %s", cfg.Provider)
	}
}
