// Package repository is the SQLite catalog used for local development and
// demos when the backend API is not reachable.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/roosvelt/autobusiness/internal/catalog"
	"github.com/roosvelt/autobusiness/internal/domain"
	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: ":memory:" databases are per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const productColumns = `id, name, description, price, category, subcategory, warranty`

func (r *Repository) ListProducts(ctx context.Context, f catalog.Filter) (*domain.ProductPage, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "lower(category) = lower(?)")
		args = append(args, f.Category)
	}
	if f.MinPrice != nil {
		where = append(where, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.Search != "" {
		where = append(where, "(instr(lower(name), lower(?)) > 0 OR instr(lower(description), lower(?)) > 0)")
		args = append(args, f.Search, f.Search)
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderClause(f.SortBy)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := r.attachImages(ctx, products); err != nil {
		return nil, err
	}

	return &domain.ProductPage{Products: products, Count: int64(len(products))}, nil
}

func (r *Repository) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	numeric, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return nil, catalog.ErrProductNotFound
	}

	row := r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", numeric)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	products := []domain.Product{p}
	if err := r.attachImages(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, COALESCE(s.name, '')
		FROM categories c
		LEFT JOIN category_subcategories s ON s.category_id = c.id
		ORDER BY c.position, c.id, s.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		var id, name, sub string
		if err := rows.Scan(&id, &name, &sub); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if n := len(categories); n == 0 || categories[n-1].ID != id {
			categories = append(categories, domain.Category{ID: id, Name: name})
		}
		if sub != "" {
			last := &categories[len(categories)-1]
			last.Subcategories = append(last.Subcategories, sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return categories, nil
}

func (r *Repository) attachImages(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	index := make(map[domain.ProductID]int, len(products))
	placeholders := make([]string, len(products))
	args := make([]any, len(products))
	for i, p := range products {
		id, err := strconv.ParseInt(p.ID.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("product id %q: %w", p.ID, err)
		}
		index[p.ID] = i
		placeholders[i] = "?"
		args[i] = id
		products[i].Images = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, url FROM product_images WHERE product_id IN ("+strings.Join(placeholders, ",")+") ORDER BY product_id, position",
		args...)
	if err != nil {
		return fmt.Errorf("failed to query product images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID int64
			url       string
		)
		if err := rows.Scan(&productID, &url); err != nil {
			return fmt.Errorf("failed to scan product image: %w", err)
		}
		if i, ok := index[domain.ProductID(strconv.FormatInt(productID, 10))]; ok {
			products[i].Images = append(products[i].Images, url)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (domain.Product, error) {
	var (
		p  domain.Product
		id int64
	)
	err := s.Scan(&id, &p.Name, &p.Description, &p.Price, &p.Category, &p.Subcategory, &p.Warranty)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan product: %w", err)
	}
	p.ID = domain.ProductID(strconv.FormatInt(id, 10))
	return p, nil
}

func orderClause(sortBy string) string {
	switch sortBy {
	case catalog.SortPriceDesc:
		return "price DESC, id"
	case catalog.SortNameAsc:
		return "lower(name), id"
	default:
		return "price ASC, id"
	}
}
