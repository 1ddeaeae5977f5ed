// Package catalog is the read-only product source of the storefront.
package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roosvelt/autobusiness/internal/domain"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidPriceRange = errors.New("minimum price cannot be greater than maximum price")
)

type Catalog interface {
	ListProducts(ctx context.Context, f Filter) (*domain.ProductPage, error)
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortNameAsc   = "name_asc"
)

type Filter struct {
	Category string
	MinPrice *int64
	MaxPrice *int64
	Search   string
	SortBy   string
}

// Normalize trims the text fields, drops the literal "null" the web client
// sends for unset values and defaults the sort order.
func (f Filter) Normalize() Filter {
	clean := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "null" {
			return ""
		}
		return s
	}
	f.Category = clean(f.Category)
	f.Search = clean(f.Search)
	switch f.SortBy {
	case SortPriceAsc, SortPriceDesc, SortNameAsc:
	default:
		f.SortBy = SortPriceAsc
	}
	return f
}

func (f Filter) Validate() error {
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return ErrInvalidPriceRange
	}
	return nil
}

// IsZero reports whether no criterion other than the sort order is set.
func (f Filter) IsZero() bool {
	return f.Category == "" && f.Search == "" && f.MinPrice == nil && f.MaxPrice == nil
}

// SearchOnly reports whether the text search is the only criterion.
func (f Filter) SearchOnly() bool {
	return f.Search != "" && f.Category == "" && f.MinPrice == nil && f.MaxPrice == nil
}

// Key identifies the filter for caching. Equal filters give equal keys.
func (f Filter) Key() string {
	f = f.Normalize()
	price := func(p *int64) string {
		if p == nil {
			return "-"
		}
		return strconv.FormatInt(*p, 10)
	}
	raw := strings.Join([]string{
		strings.ToLower(f.Category),
		price(f.MinPrice),
		price(f.MaxPrice),
		strings.ToLower(f.Search),
		f.SortBy,
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Matches applies the filter to one product: exact category, inclusive
// price bounds and a case-insensitive search over name and description.
func (f Filter) Matches(p domain.Product) bool {
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			return false
		}
	}
	return true
}

// SortProducts orders products in place by sortBy. Ties keep their order.
func SortProducts(products []domain.Product, sortBy string) {
	switch sortBy {
	case SortPriceDesc:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Price > products[j].Price })
	case SortNameAsc:
		sort.SliceStable(products, func(i, j int) bool {
			return strings.ToLower(products[i].Name) < strings.ToLower(products[j].Name)
		})
	default:
		sort.SliceStable(products, func(i, j int) bool { return products[i].Price < products[j].Price })
	}
}

// PriceParam parses an optional price query value.
func PriceParam(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", raw, err)
	}
	return &v, nil
}
