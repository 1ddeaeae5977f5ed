package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_NegativeRetriesClampToZero(t *testing.T) {
	t.Setenv("ORDER_MAX_RETRIES", "-1")

	cfg := loadConfig()

	assert.Equal(t, uint64(0), cfg.Order.MaxRetries)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ORDER_MAX_RETRIES", "4")
	t.Setenv("SUBMIT_TIMEOUT", "20s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("POSTGRES_PORT", "not-a-port")

	cfg := loadConfig()

	assert.Equal(t, uint64(4), cfg.Order.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadConfig_CartStores(t *testing.T) {
	t.Setenv("REDIS_KEY_PREFIX", "shop-eu")
	t.Setenv("CART_CACHE_TTL", "30s")
	t.Setenv("MONGO_APP_NAME", "storefront-eu")
	t.Setenv("MONGO_MAX_POOL", "0")

	cfg := loadConfig()

	assert.Equal(t, "shop-eu", cfg.CartCache.Prefix)
	assert.Equal(t, 30*time.Second, cfg.CartCache.TTL)
	assert.Equal(t, 30*time.Second, cfg.CartCache.EmptyTTL)
	assert.Equal(t, "storefront-eu", cfg.Mongo.AppName)
	assert.Equal(t, uint64(1), cfg.Mongo.MaxPoolSize)
}
