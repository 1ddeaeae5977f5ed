package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/roosvelt/autobusiness/internal/catalog/cache"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cached puts a listing cache in front of another Catalog. Single product
// lookups always go to the source.
type Cached struct {
	next  Catalog
	cache cache.ListingCache
	log   *zap.Logger
	sfg   singleflight.Group
}

func NewCached(next Catalog, c cache.ListingCache, log *zap.Logger) *Cached {
	return &Cached{next: next, cache: c, log: logger.OrNop(log)}
}

func (c *Cached) ListProducts(ctx context.Context, f Filter) (*domain.ProductPage, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	key := f.Key()

	v, err, _ := c.sfg.Do("products:"+key, func() (interface{}, error) {
		page, err := c.cache.GetProducts(ctx, key)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx, c.log).Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
		}

		page, err = c.next.ListProducts(ctx, f)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.cache.SetProducts(setCtx, key, page); err != nil {
			logger.FromContext(ctx, c.log).Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return copyPage(v.(*domain.ProductPage)), nil
}

func (c *Cached) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	return c.next.GetProduct(ctx, id)
}

func (c *Cached) ListCategories(ctx context.Context) ([]domain.Category, error) {
	v, err, _ := c.sfg.Do("categories", func() (interface{}, error) {
		categories, err := c.cache.GetCategories(ctx)
		if err == nil {
			return categories, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx, c.log).Warn("category cache get failed", zap.Error(err))
		}

		categories, err = c.next.ListCategories(ctx)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.cache.SetCategories(setCtx, categories); err != nil {
			logger.FromContext(ctx, c.log).Warn("category cache set failed", zap.Error(err))
		}
		return categories, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Category)
	return append([]domain.Category(nil), shared...), nil
}

func copyPage(p *domain.ProductPage) *domain.ProductPage {
	out := &domain.ProductPage{Count: p.Count, Products: make([]domain.Product, len(p.Products))}
	copy(out.Products, p.Products)
	return out
}
