package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/roosvelt/autobusiness/internal/domain"
)

// Config controls where session carts live in Redis and for how long.
type Config struct {
	// Prefix namespaces the keys so several storefronts can share one Redis.
	Prefix string
	// TTL applies to carts holding at least one line.
	TTL time.Duration
	// EmptyTTL applies to carts with no lines. Most visitors never add a
	// product, so their carts should not stay resident as long.
	EmptyTTL  time.Duration
	MaxJitter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:    "storefront",
		TTL:       15 * time.Minute,
		EmptyTTL:  time.Minute,
		MaxJitter: 4 * time.Minute,
	}
}

// withDefaults fills an empty Prefix and unset TTLs from DefaultConfig.
// A zero MaxJitter disables jitter.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.EmptyTTL <= 0 {
		c.EmptyTTL = min(d.EmptyTTL, c.TTL)
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	return c
}

func NewRedisCache(client redis.UniversalClient, cfg Config) *RedisCache {
	return &RedisCache{
		client: client,
		cfg:    cfg.withDefaults(),
	}
}

type RedisCache struct {
	client redis.UniversalClient
	cfg    Config
}

func (r RedisCache) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.SessionID != sessionID {
		return nil, fmt.Errorf("cached cart belongs to session %q", cart.SessionID)
	}
	return &cart, nil
}

func (r RedisCache) Set(ctx context.Context, sessionID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttlFor(cart)).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// ttlFor spreads expiries of non-empty carts over MaxJitter.
func (r RedisCache) ttlFor(cart *domain.Cart) time.Duration {
	if len(cart.Lines) == 0 {
		return r.cfg.EmptyTTL
	}
	ttl := r.cfg.TTL
	if r.cfg.MaxJitter > 0 {
		ttl += time.Duration(rand.Int63n(int64(r.cfg.MaxJitter)))
	}
	return ttl
}

func (r RedisCache) key(sessionID string) string {
	return fmt.Sprintf("%s:cart:%s", r.cfg.Prefix, sessionID)
}
