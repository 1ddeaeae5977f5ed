package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/roosvelt/autobusiness/internal/cart"
	"github.com/roosvelt/autobusiness/internal/cart/cache"
	"github.com/roosvelt/autobusiness/internal/cart/repository"
	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProductLookup resolves a product id against the catalog.
type ProductLookup interface {
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
}

const lockStripes = 64

type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	products ProductLookup
	log      *zap.Logger
	sfg      singleflight.Group // Prevents cache stampede
	locks    [lockStripes]sync.Mutex

	// deadline for SessionCart calls, which run outside a request
	bindTimeout time.Duration
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, products ProductLookup, log *zap.Logger) *CartService {
	return &CartService{
		repo:        repo,
		cache:       c,
		products:    products,
		log:         logger.OrNop(log),
		bindTimeout: 5 * time.Second,
	}
}

func (s *CartService) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		c, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx, s.log).Warn("cart cache get failed", zap.String("session_id", sessionID), zap.Error(err))
		}

		// fill under the session lock so a concurrent mutation cannot be
		// followed by a stale cache write
		mu := s.lockFor(sessionID)
		mu.Lock()
		defer mu.Unlock()

		c, err = s.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.cache.Set(setCtx, sessionID, c); err != nil {
			logger.FromContext(ctx, s.log).Warn("cart cache set failed", zap.String("session_id", sessionID), zap.Error(err))
		}

		return c, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight hands the same pointer to every waiter
	shared := v.(*domain.Cart)
	out := *shared
	out.CartState = shared.CartState.Clone()
	return &out, nil
}

// AddItem resolves productID through the catalog and adds one unit of it.
func (s *CartService) AddItem(ctx context.Context, sessionID string, productID domain.ProductID) (*domain.Cart, error) {
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("resolve product %s: %w", productID, err)
	}

	return s.mutate(ctx, sessionID, func(st *cart.Store) {
		st.AddItem(*p)
	})
}

func (s *CartService) UpdateQuantity(ctx context.Context, sessionID string, productID domain.ProductID, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, sessionID, func(st *cart.Store) {
		st.UpdateQuantity(productID, quantity)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, sessionID string, productID domain.ProductID) (*domain.Cart, error) {
	return s.mutate(ctx, sessionID, func(st *cart.Store) {
		st.RemoveItem(productID)
	})
}

func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.DeleteCart(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		logger.FromContext(ctx, s.log).Error("cart delete failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	s.invalidateCache(sessionID)
	return nil
}

// ClearCartIfUnchangedSince deletes the cart only when it was last written
// at or before since. It reports whether a cart was deleted.
func (s *CartService) ClearCartIfUnchangedSince(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.repo.GetCart(ctx, sessionID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load cart: %w", err)
	}
	if current.UpdatedAt.After(since) {
		return false, nil
	}

	if err := s.repo.DeleteCart(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return false, nil
		}
		return false, err
	}
	s.invalidateCache(sessionID)
	return true, nil
}

// mutate applies fn to the stored cart under the session lock. The base
// state always comes from the repository, never from the cache.
func (s *CartService) mutate(ctx context.Context, sessionID string, fn func(*cart.Store)) (*domain.Cart, error) {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st := cart.Restore(current.Lines)
	fn(st)
	current.CartState = st.Snapshot()

	if err := s.repo.UpsertCart(ctx, current); err != nil {
		logger.FromContext(ctx, s.log).Error("cart upsert failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}

	s.invalidateCache(sessionID)
	return current, nil
}

func (s *CartService) load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	c, err := s.repo.GetCart(ctx, sessionID)
	if errors.Is(err, repository.ErrCartNotFound) {
		now := time.Now()
		return &domain.Cart{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CartService) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *CartService) invalidateCache(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// SessionCart is the checkout workflow's handle on one session's cart.
type SessionCart struct {
	svc       *CartService
	sessionID string
}

func (s *CartService) Bind(sessionID string) *SessionCart {
	return &SessionCart{svc: s, sessionID: sessionID}
}

// Snapshot returns the current lines. A load failure reads as an empty cart.
func (c *SessionCart) Snapshot() domain.CartState {
	ctx, cancel := context.WithTimeout(context.Background(), c.svc.bindTimeout)
	defer cancel()

	current, err := c.svc.GetCart(ctx, c.sessionID)
	if err != nil {
		c.svc.log.Error("bound cart load failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return domain.CartState{}
	}
	return current.CartState
}

func (c *SessionCart) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), c.svc.bindTimeout)
	defer cancel()

	if err := c.svc.ClearCart(ctx, c.sessionID); err != nil {
		c.svc.log.Error("bound cart clear failed", zap.String("session_id", c.sessionID), zap.Error(err))
	}
}
