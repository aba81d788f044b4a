package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reservation-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateReservation inserts a reservation row
func (t *pgTx) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	query := `
		INSERT INTO reservations (status, requester_user_id, created_user_id, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := t.tx.GetContext(ctx, reservation, query,
		reservation.Status, reservation.RequesterUserID, reservation.CreatedUserID, reservation.Reason)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("user %d: %w", reservation.RequesterUserID, ErrNotFound)
	}
	return err
}

// CreateLineItems inserts the line items of a reservation
func (t *pgTx) CreateLineItems(ctx context.Context, items []models.ReservationLineItem) error {
	query := `
		INSERT INTO reservation_line_items (reservation_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	for i := range items {
		err := t.tx.GetContext(ctx, &items[i].ID, query,
			items[i].ReservationID, items[i].ProductID, items[i].Quantity)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("product %d: %w", items[i].ProductID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to create line item: %w", err)
		}
	}
	return nil
}

// GetReservationForUpdate locks and returns a reservation
func (t *pgTx) GetReservationForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	var reservation models.Reservation
	err := t.tx.GetContext(ctx, &reservation, "SELECT * FROM reservations WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetLineItems retrieves all items for a reservation
func (t *pgTx) GetLineItems(ctx context.Context, reservationID int64) ([]models.ReservationLineItem, error) {
	var items []models.ReservationLineItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM reservation_line_items WHERE reservation_id = $1 ORDER BY product_id", reservationID)
	return items, err
}

// UpdateReservationStatus sets the status and the acting manager
func (t *pgTx) UpdateReservationStatus(ctx context.Context, id int64, update StatusUpdate) (*models.Reservation, error) {
	query := `
		UPDATE reservations
		SET status = $1,
			manager_user_id = $2,
			updated_user_id = $2,
			manager_comment = COALESCE($3, manager_comment),
			updated_at = NOW()
		WHERE id = $4
		RETURNING *`

	var reservation models.Reservation
	err := t.tx.GetContext(ctx, &reservation, query, update.Status, update.ManagerID, update.Comment, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("user %d: %w", update.ManagerID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetReservationByID retrieves a reservation by ID
func (s *Store) GetReservationByID(ctx context.Context, id int64) (*models.Reservation, error) {
	var reservation models.Reservation
	err := s.db.GetContext(ctx, &reservation, "SELECT * FROM reservations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// ListReservations retrieves reservations newest first
func (s *Store) ListReservations(ctx context.Context, filter ReservationFilter) ([]models.Reservation, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RequesterID != 0 {
		args = append(args, filter.RequesterID)
		conds = append(conds, fmt.Sprintf("requester_user_id = $%d", len(args)))
	}
	if !filter.CreatedSince.IsZero() {
		args = append(args, filter.CreatedSince)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := "SELECT * FROM reservations"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations, query, args...)
	return reservations, err
}

// GetLineItemsByReservationIDs retrieves the items of several reservations
func (s *Store) GetLineItemsByReservationIDs(ctx context.Context, ids []int64) ([]models.ReservationLineItem, error) {
	if len(ids) == 0 {
		return []models.ReservationLineItem{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM reservation_line_items WHERE reservation_id IN (?) ORDER BY reservation_id, product_id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.ReservationLineItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}
