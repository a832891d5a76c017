package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// CustomerRepository loads and saves customers.
type CustomerRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Customer, error)
	Update(ctx context.Context, customer *models.Customer) error
}

// ProductRepository reads the catalog.
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Product, error)
}

// InventoryRepository reads and writes inventory records.
type InventoryRepository interface {
	GetByProductID(ctx context.Context, productID int64) (*models.InventoryRecord, error)
	Update(ctx context.Context, record *models.InventoryRecord) error
	SoftDelete(ctx context.Context, productID int64, at time.Time) error
}

// OrderRepository persists orders together with their lines.
type OrderRepository interface {
	Add(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	GetWithLines(ctx context.Context, id int64) (*models.Order, error)
	GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	SumPaidTotalByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
	HasLinesForProduct(ctx context.Context, productID int64) (bool, error)
}

// VipHistoryRepository appends tier change records.
type VipHistoryRepository interface {
	Add(ctx context.Context, entry *models.VipStatusHistory) error
}

// Repositories groups the repositories bound to one unit of work.
type Repositories interface {
	Customers() CustomerRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	VipHistory() VipHistoryRepository
}

// UnitOfWork runs fn atomically: every write made through repos commits
// together or not at all.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx executes fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, newRepositories(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "commit transaction")
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

type repositories struct {
	q querier
}

func newRepositories(q querier) *repositories {
	return &repositories{q: q}
}

func (r *repositories) Customers() CustomerRepository { return &customerRepo{q: r.q} }
func (r *repositories) Products() ProductRepository { return &productRepo{q: r.q} }
func (r *repositories) Inventory() InventoryRepository { return &inventoryRepo{q: r.q} }
func (r *repositories) Orders() OrderRepository { return &orderRepo{q: r.q} }
func (r *repositories) VipHistory() VipHistoryRepository { return &vipHistoryRepo{q: r.q} }

// getOne runs a single-row query, mapping sql.ErrNoRows to NOT_FOUND.
func getOne(ctx context.Context, q querier, dest interface{}, what string, id int64, query string, args ...interface{}) error {
	err := q.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.CodeNotFound, "%s not found: %d", what, id)
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, fmt.Sprintf("load %s %d", what, id))
	}
	return nil
}

func dependency(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.CodeDependency, err, fmt.Sprintf(format, args...))
}
