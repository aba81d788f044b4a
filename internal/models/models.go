package models

import "time"

// Product represents a stocked product
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Price       int64     `db:"price" json:"price"`
	Amount      int       `db:"amount" json:"amount"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// User represents an application user resolved from the identity provider
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsManager reports whether the user may transition reservations
func (u *User) IsManager() bool {
	return u != nil && u.Role == RoleManager
}

// UserRef is the minimal user projection joined into reservation reads
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Reservation represents a request for a set of product quantities
type Reservation struct {
	ID              int64     `db:"id" json:"id"`
	Status          string    `db:"status" json:"status"`
	RequesterUserID int64     `db:"requester_user_id" json:"requester_user_id"`
	ManagerUserID   *int64    `db:"manager_user_id" json:"manager_user_id,omitempty"`
	CreatedUserID   int64     `db:"created_user_id" json:"created_user_id"`
	UpdatedUserID   *int64    `db:"updated_user_id" json:"updated_user_id,omitempty"`
	ManagerComment  *string   `db:"manager_comment" json:"manager_comment,omitempty"`
	Reason          *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ReservationLineItem is one (product, quantity) pair owned by a reservation
type ReservationLineItem struct {
	ID            int64 `db:"id" json:"id"`
	ReservationID int64 `db:"reservation_id" json:"reservation_id"`
	ProductID     int64 `db:"product_id" json:"product_id"`
	Quantity      int   `db:"quantity" json:"quantity"`
}

// Reservation statuses
const (
	ReservationStatusPending   = "pending"
	ReservationStatusAvailable = "available"
	ReservationStatusCompleted = "completed"
	ReservationStatusRejected  = "rejected"
)

// ReservationStatuses lists every status in lifecycle order
var ReservationStatuses = []string{
	ReservationStatusPending,
	ReservationStatusAvailable,
	ReservationStatusCompleted,
	ReservationStatusRejected,
}

// IsValidStatus reports whether s names a reservation status
func IsValidStatus(s string) bool {
	for _, status := range ReservationStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// User roles
const (
	RoleManager   = "reservation_manager"
	RoleRequester = "reservation_requester"
)
