package models

import "time"

// Event types
const (
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationAvailable = "RESERVATION_AVAILABLE"
	EventTypeReservationCompleted = "RESERVATION_COMPLETED"
	EventTypeReservationRejected  = "RESERVATION_REJECTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationEvent is published after every committed lifecycle step.
// Items carry the stock delta for created and rejected events.
type ReservationEvent struct {
	BaseEvent
	ReservationID int64          `json:"reservation_id"`
	Status        string         `json:"status"`
	ActorUserID   int64          `json:"actor_user_id"`
	Items         []LineItemData `json:"items,omitempty"`
}

// LineItemData represents item data in events
type LineItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// StockDelta returns the signed change the event applied to a product's amount
func (e *ReservationEvent) StockDelta(item LineItemData) int {
	switch e.EventType {
	case EventTypeReservationCreated:
		return -item.Quantity
	case EventTypeReservationRejected:
		return item.Quantity
	default:
		return 0
	}
}
