package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"
)

var (
	// ErrNotFound is returned when a referenced product, reservation or user is absent
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a decrement would take an amount below zero
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError names the product that could not cover a request
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested=%d, available=%d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StatusUpdate describes a manager-driven status change
type StatusUpdate struct {
	Status    string
	ManagerID int64
	Comment   *string
}

// ReservationFilter narrows reservation listings. Zero values match everything.
type ReservationFilter struct {
	Status       string
	RequesterID  int64
	CreatedSince time.Time
}

// Tx is the set of mutations that run inside one transaction
type Tx interface {
	// GetQuantity returns the amount of a product and holds its row until
	// the transaction ends
	GetQuantity(ctx context.Context, productID int64) (int, error)
	// DecrementStock subtracts amount, failing with *InsufficientStockError
	// rather than going below zero
	DecrementStock(ctx context.Context, productID int64, amount int) (int, error)
	// IncrementStock adds amount and returns the new total
	IncrementStock(ctx context.Context, productID int64, amount int) (int, error)

	// CreateReservation inserts the reservation and fills in its ID and timestamps
	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	// CreateLineItems inserts items and fills in their IDs
	CreateLineItems(ctx context.Context, items []models.ReservationLineItem) error
	// GetReservationForUpdate returns a reservation and holds its row
	GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error)
	// GetLineItems returns the items of a reservation ordered by product id
	GetLineItems(ctx context.Context, reservationID int64) ([]models.ReservationLineItem, error)
	// UpdateReservationStatus applies update and returns the stored row
	UpdateReservationStatus(ctx context.Context, id int64, update StatusUpdate) (*models.Reservation, error)
}

// Repository is the persistent store. Reads are not serialized against writes.
type Repository interface {
	// WithTx runs fn in a transaction, committing on nil and rolling back otherwise
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetQuantity reads the amount of a product without locking it
	GetQuantity(ctx context.Context, productID int64) (int, error)
	// GetProductByID returns one product or ErrNotFound
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// GetProducts returns every product ordered by name
	GetProducts(ctx context.Context) ([]models.Product, error)
	// GetProductsByIDs returns the products that exist among ids
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)

	// GetReservationByID returns one reservation or ErrNotFound
	GetReservationByID(ctx context.Context, id int64) (*models.Reservation, error)
	// ListReservations returns matching reservations, newest first
	ListReservations(ctx context.Context, filter ReservationFilter) ([]models.Reservation, error)
	// GetLineItemsByReservationIDs returns the items of several reservations
	GetLineItemsByReservationIDs(ctx context.Context, ids []int64) ([]models.ReservationLineItem, error)

	// GetUserByEmail returns the user with email or ErrNotFound
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUsersByIDs returns the users that exist among ids
	GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
	// Close releases the store's resources
	Close() error
}

// Open returns the repository for the configured driver
func Open(driver, databaseURL string) (Repository, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "pgx":
		return NewStore(driver, databaseURL)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
}
