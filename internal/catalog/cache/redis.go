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

var ErrCacheMiss = errors.New("cache miss")

// ListingCache stores product listings by filter key, and the category list.
type ListingCache interface {
	GetProducts(ctx context.Context, key string) (*domain.ProductPage, error)
	SetProducts(ctx context.Context, key string, page *domain.ProductPage) error
	GetCategories(ctx context.Context) ([]domain.Category, error)
	SetCategories(ctx context.Context, categories []domain.Category) error
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 5 * time.Minute,
	}
}

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func (r RedisCache) GetProducts(ctx context.Context, key string) (*domain.ProductPage, error) {
	var page domain.ProductPage
	if err := r.get(ctx, productsKey(key), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (r RedisCache) SetProducts(ctx context.Context, key string, page *domain.ProductPage) error {
	return r.set(ctx, productsKey(key), page)
}

func (r RedisCache) GetCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	if err := r.get(ctx, categoriesKey, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r RedisCache) SetCategories(ctx context.Context, categories []domain.Category) error {
	return r.set(ctx, categoriesKey, categories)
}

func (r RedisCache) get(ctx context.Context, key string, out any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (r RedisCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}

	ttl := r.baseTTL + time.Duration(rand.Intn(30))*time.Second
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

const categoriesKey = "catalog:categories"

func productsKey(filterKey string) string {
	return fmt.Sprintf("catalog:products:%s", filterKey)
}
