// Package repository is the PostgreSQL ledger of confirmed checkouts. Every
// confirmation lands here, including the ones the order backend never took,
// so the outbox poller can publish them and retry the missing orders.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/roosvelt/autobusiness/internal/backend"
)

var (
	ErrCheckoutNotFound  = errors.New("checkout record not found")
	ErrDuplicateCheckout = errors.New("checkout record already exists for idempotency key")
)

// Record statuses. Only fallback records are handed to the backend again.
const (
	StatusPersisted = "persisted"
	StatusFallback  = "fallback"
	// the backend answered 2xx with a body that could not be read
	StatusAccepted = "accepted"
	// the backend refused the draft for good
	StatusRejected = "rejected"
)

const uniqueViolation = "23505"

// StatusForSubmissionError maps a failed order submission to the status of
// its record. Only 5xx, 429 and transport errors keep it in the resync
// queue as fallback.
func StatusForSubmissionError(err error) string {
	if backend.IsDecodeError(err) {
		return StatusAccepted
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return StatusRejected
	}
	return StatusFallback
}

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CheckoutRecord is one confirmed checkout. Record holds the order the
// shopper saw, Draft the payload that was (or should be) sent to the
// backend.
type CheckoutRecord struct {
	ID             uuid.UUID
	SessionID      string
	IdempotencyKey string
	OrderID        string
	Status         string
	Persisted      bool
	Published      bool
	Record         json.RawMessage
	Draft          json.RawMessage
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Repository struct {
	db *sql.DB
}

type RepoInterface interface {
	CreateCheckoutRecord(ctx context.Context, rec *CheckoutRecord) error
	GetByIdempotencyKey(ctx context.Context, key string) (*CheckoutRecord, error)
	GetUnpublished(ctx context.Context, limit int) ([]*CheckoutRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	GetUnpersisted(ctx context.Context, limit int) ([]*CheckoutRecord, error)
	MarkPersisted(ctx context.Context, id uuid.UUID, orderID string, record json.RawMessage) error
	StopResync(ctx context.Context, id uuid.UUID, status, reason string) error
	Close() error
	RunMigrations(*Credentials) error
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
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

// CreateCheckoutRecord inserts rec, filling ID and timestamps when unset.
func (r *Repository) CreateCheckoutRecord(ctx context.Context, rec *CheckoutRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO checkout_records
			(id, session_id, idempotency_key, order_id, status, persisted, published, record, draft, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.IdempotencyKey, rec.OrderID, rec.Status,
		rec.Persisted, rec.Published, []byte(rec.Record), []byte(rec.Draft),
		rec.LastError, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("failed to insert checkout record: %w", err)
	}
	return nil
}

const recordColumns = `id, session_id, idempotency_key, order_id, status, persisted, published, record, draft, last_error, created_at, updated_at`

func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*CheckoutRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM checkout_records WHERE idempotency_key = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout record: %w", err)
	}
	return rec, nil
}

// GetUnpublished returns records not yet written to Kafka, oldest first.
func (r *Repository) GetUnpublished(ctx context.Context, limit int) ([]*CheckoutRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM checkout_records
		WHERE published = FALSE ORDER BY created_at LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE checkout_records SET published = TRUE, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, query, id)
}

// GetUnpersisted returns fallback records the backend has not accepted yet,
// oldest first. Rejected and accepted records are left out.
func (r *Repository) GetUnpersisted(ctx context.Context, limit int) ([]*CheckoutRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM checkout_records
		WHERE persisted = FALSE AND status = $2 ORDER BY created_at LIMIT $1`
	return r.list(ctx, query, limit, StatusFallback)
}

// MarkPersisted stores the backend's order id and record. The published
// flag is left alone.
func (r *Repository) MarkPersisted(ctx context.Context, id uuid.UUID, orderID string, record json.RawMessage) error {
	query := `
		UPDATE checkout_records
		SET persisted = TRUE, status = $2, order_id = $3, record = $4, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, StatusPersisted, orderID, []byte(record))
}

// StopResync takes a fallback record out of the resync queue with a final
// status and the reason.
func (r *Repository) StopResync(ctx context.Context, id uuid.UUID, status, reason string) error {
	query := `
		UPDATE checkout_records
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND persisted = FALSE
	`
	return r.exec(ctx, query, id, status, reason)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update checkout record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrCheckoutNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, limit int, args ...any) ([]*CheckoutRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, append([]any{limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkout records: %w", err)
	}
	defer rows.Close()

	var records []*CheckoutRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkout record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkout records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*CheckoutRecord, error) {
	var (
		rec           CheckoutRecord
		record, draft []byte
	)
	err := s.Scan(
		&rec.ID, &rec.SessionID, &rec.IdempotencyKey, &rec.OrderID, &rec.Status,
		&rec.Persisted, &rec.Published, &record, &draft, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Record = json.RawMessage(record)
	rec.Draft = json.RawMessage(draft)
	return &rec, nil
}
