package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reservation-service/internal/models"
)

// MemoryStore is an in-process Repository. Transactions are serialized behind
// one mutex and rolled back through an undo journal.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[int64]*models.Product
	users        map[int64]*models.User
	reservations map[int64]*models.Reservation
	lineItems    map[int64][]models.ReservationLineItem

	nextProductID     int64
	nextUserID        int64
	nextReservationID int64
	nextLineItemID    int64

	now func() time.Time
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[int64]*models.Product),
		users:        make(map[int64]*models.User),
		reservations: make(map[int64]*models.Reservation),
		lineItems:    make(map[int64][]models.ReservationLineItem),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for created and updated timestamps
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddProduct inserts a product and returns it with ID and timestamps set
func (m *MemoryStore) AddProduct(p models.Product) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextProductID++
	now := m.now()
	p.ID = m.nextProductID
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = &p
	return p
}

// AddUser inserts a user and returns it with ID and timestamps set
func (m *MemoryStore) AddUser(u models.User) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextUserID++
	now := m.now()
	u.ID = m.nextUserID
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = &u
	return u
}

// WithTx runs fn with exclusive access to the store. Changes are undone when
// fn returns an error or panics.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryStore) GetQuantity(ctx context.Context, productID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return p.Amount, nil
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	product := *p
	return &product, nil
}

func (m *MemoryStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok && !seen[id] {
			seen[id] = true
			products = append(products, *p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemoryStore) GetReservationByID(ctx context.Context, id int64) (*models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	reservation := *r
	return &reservation, nil
}

func (m *MemoryStore) ListReservations(ctx context.Context, filter ReservationFilter) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reservations := make([]models.Reservation, 0)
	for _, r := range m.reservations {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.RequesterID != 0 && r.RequesterUserID != filter.RequesterID {
			continue
		}
		if !filter.CreatedSince.IsZero() && r.CreatedAt.Before(filter.CreatedSince) {
			continue
		}
		reservations = append(reservations, *r)
	}
	sort.Slice(reservations, func(i, j int) bool {
		if !reservations[i].CreatedAt.Equal(reservations[j].CreatedAt) {
			return reservations[i].CreatedAt.After(reservations[j].CreatedAt)
		}
		return reservations[i].ID > reservations[j].ID
	})
	return reservations, nil
}

func (m *MemoryStore) GetLineItemsByReservationIDs(ctx context.Context, ids []int64) ([]models.ReservationLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	items := make([]models.ReservationLineItem, 0)
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		items = append(items, m.lineItems[id]...)
	}
	return items, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == email {
			user := *u
			return &user, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (m *MemoryStore) GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]models.User, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok && !seen[id] {
			seen[id] = true
			users = append(users, *u)
		}
	}
	return users, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// memTx mutates the store directly; the caller holds m.mu
type memTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetQuantity(ctx context.Context, productID int64) (int, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return p.Amount, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, amount int) (int, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if amount > p.Amount {
		return 0, &InsufficientStockError{ProductID: productID, Requested: amount, Available: p.Amount}
	}
	t.adjust(p, -amount)
	return p.Amount, nil
}

func (t *memTx) IncrementStock(ctx context.Context, productID int64, amount int) (int, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	t.adjust(p, amount)
	return p.Amount, nil
}

func (t *memTx) adjust(p *models.Product, delta int) {
	prevAmount, prevUpdated := p.Amount, p.UpdatedAt
	p.Amount += delta
	p.UpdatedAt = t.store.now()
	t.undo = append(t.undo, func() {
		p.Amount, p.UpdatedAt = prevAmount, prevUpdated
	})
}

func (t *memTx) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	if _, ok := t.store.users[reservation.RequesterUserID]; !ok {
		return fmt.Errorf("user %d: %w", reservation.RequesterUserID, ErrNotFound)
	}
	if _, ok := t.store.users[reservation.CreatedUserID]; !ok {
		return fmt.Errorf("user %d: %w", reservation.CreatedUserID, ErrNotFound)
	}

	t.store.nextReservationID++
	now := t.store.now()
	reservation.ID = t.store.nextReservationID
	reservation.CreatedAt, reservation.UpdatedAt = now, now

	stored := *reservation
	t.store.reservations[stored.ID] = &stored
	t.undo = append(t.undo, func() {
		delete(t.store.reservations, stored.ID)
	})
	return nil
}

func (t *memTx) CreateLineItems(ctx context.Context, items []models.ReservationLineItem) error {
	for i := range items {
		if _, ok := t.store.reservations[items[i].ReservationID]; !ok {
			return fmt.Errorf("reservation %d: %w", items[i].ReservationID, ErrNotFound)
		}
		if _, ok := t.store.products[items[i].ProductID]; !ok {
			return fmt.Errorf("product %d: %w", items[i].ProductID, ErrNotFound)
		}

		t.store.nextLineItemID++
		items[i].ID = t.store.nextLineItemID

		reservationID := items[i].ReservationID
		prev := t.store.lineItems[reservationID]
		t.store.lineItems[reservationID] = append(append([]models.ReservationLineItem(nil), prev...), items[i])
		t.undo = append(t.undo, func() {
			if prev == nil {
				delete(t.store.lineItems, reservationID)
				return
			}
			t.store.lineItems[reservationID] = prev
		})
	}
	return nil
}

func (t *memTx) GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	r, ok := t.store.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	reservation := *r
	return &reservation, nil
}

func (t *memTx) GetLineItems(ctx context.Context, reservationID int64) ([]models.ReservationLineItem, error) {
	items := append([]models.ReservationLineItem(nil), t.store.lineItems[reservationID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (t *memTx) UpdateReservationStatus(ctx context.Context, id int64, update StatusUpdate) (*models.Reservation, error) {
	r, ok := t.store.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if _, ok := t.store.users[update.ManagerID]; !ok {
		return nil, fmt.Errorf("user %d: %w", update.ManagerID, ErrNotFound)
	}

	prev := *r
	managerID := update.ManagerID
	r.Status = update.Status
	r.ManagerUserID = &managerID
	r.UpdatedUserID = &managerID
	if update.Comment != nil {
		comment := *update.Comment
		r.ManagerComment = &comment
	}
	r.UpdatedAt = t.store.now()
	t.undo = append(t.undo, func() {
		*r = prev
	})

	reservation := *r
	return &reservation, nil
}
