package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const foreignKeyViolation = "23503"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store. driver is "postgres" (lib/pq) or "pgx".
func NewStore(driver, databaseURL string) (*Store, error) {
	db, err := sqlx.Connect(driver, databaseURL)
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

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a database transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetQuantity reads the current amount of a product
func (s *Store) GetQuantity(ctx context.Context, productID int64) (int, error) {
	var amount int
	err := s.db.GetContext(ctx, &amount, "SELECT amount FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return amount, err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all products ordered by name
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY name, id")
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs retrieves multiple users by IDs
func (s *Store) GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM users WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var users []models.User
	err = s.db.SelectContext(ctx, &users, query, args...)
	return users, err
}

type pgTx struct {
	tx *sqlx.Tx
}

// GetQuantity locks the product row (FOR UPDATE) and returns its amount
func (t *pgTx) GetQuantity(ctx context.Context, productID int64) (int, error) {
	var amount int
	err := t.tx.GetContext(ctx, &amount,
		"SELECT amount FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock product: %w", err)
	}
	return amount, nil
}

// DecrementStock subtracts amount only while the row can cover it
func (t *pgTx) DecrementStock(ctx context.Context, productID int64, amount int) (int, error) {
	var remaining int
	err := t.tx.GetContext(ctx, &remaining,
		"UPDATE products SET amount = amount - $1, updated_at = clock_timestamp() WHERE id = $2 AND amount >= $1 RETURNING amount",
		amount, productID)
	if err == sql.ErrNoRows {
		available, qerr := t.GetQuantity(ctx, productID)
		if qerr != nil {
			return 0, qerr
		}
		return 0, &InsufficientStockError{ProductID: productID, Requested: amount, Available: available}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return remaining, nil
}

// IncrementStock adds amount to the product
func (t *pgTx) IncrementStock(ctx context.Context, productID int64, amount int) (int, error) {
	var total int
	err := t.tx.GetContext(ctx, &total,
		"UPDATE products SET amount = amount + $1, updated_at = clock_timestamp() WHERE id = $2 RETURNING amount",
		amount, productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment stock: %w", err)
	}
	return total, nil
}

// isForeignKeyViolation matches both lib/pq and pgx error types
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == foreignKeyViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == foreignKeyViolation
	}
	return false
}
