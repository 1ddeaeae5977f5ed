// Package client reads the catalog from the backend REST API.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/roosvelt/autobusiness/internal/backend"
	"github.com/roosvelt/autobusiness/internal/catalog"
	"github.com/roosvelt/autobusiness/internal/domain"
)

type Client struct {
	api *backend.Client
}

func New(api *backend.Client) *Client {
	return &Client{api: api}
}

func (c *Client) ListProducts(ctx context.Context, f catalog.Filter) (*domain.ProductPage, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}

	req := backend.Request{Method: http.MethodGet, Query: url.Values{}}
	switch {
	case f.IsZero():
		req.Path = "/products"
	case f.SearchOnly():
		req.Path = "/products/search"
		req.Query.Set("q", f.Search)
	default:
		req.Path = "/products/filter"
		if f.Category != "" {
			req.Query.Set("category", f.Category)
		}
		if f.MinPrice != nil {
			req.Query.Set("minPrice", strconv.FormatInt(*f.MinPrice, 10))
		}
		if f.MaxPrice != nil {
			req.Query.Set("maxPrice", strconv.FormatInt(*f.MaxPrice, 10))
		}
		if f.Search != "" {
			req.Query.Set("search", f.Search)
		}
	}
	req.Query.Set("sortBy", f.SortBy)

	var page domain.ProductPage
	if err := c.api.Do(ctx, req, &page); err != nil {
		return nil, err
	}
	if page.Products == nil {
		page.Products = []domain.Product{}
	}
	// the backend does not sort
	catalog.SortProducts(page.Products, f.SortBy)
	return &page, nil
}

func (c *Client) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	var p domain.Product
	err := c.api.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   "/products/" + url.PathEscape(id.String()),
	}, &p)
	// ids are numeric on the backend; anything else is answered with 400
	if backend.IsStatus(err, http.StatusNotFound) || backend.IsStatus(err, http.StatusBadRequest) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	if err := c.api.Do(ctx, backend.Request{Method: http.MethodGet, Path: "/categories"}, &categories); err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	return categories, nil
}
