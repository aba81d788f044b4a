package service

import "reservation-service/internal/models"

// Event is a manager action on an existing reservation
type Event string

const (
	EventMarkAvailable Event = "mark available"
	EventDeliver       Event = "deliver"
	EventReject        Event = "reject"
)

// transitions is the whole lifecycle. Statuses without an entry are terminal.
var transitions = map[string]map[Event]string{
	models.ReservationStatusPending: {
		EventMarkAvailable: models.ReservationStatusAvailable,
		EventReject:        models.ReservationStatusRejected,
	},
	models.ReservationStatusAvailable: {
		EventDeliver: models.ReservationStatusCompleted,
		EventReject:  models.ReservationStatusRejected,
	},
}

// NextStatus returns the status an event leads to from the given one
func NextStatus(from string, event Event) (string, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", &TransitionError{From: from, Event: event}
}

// IsTerminal reports whether no event is accepted from status
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// restoresStock reports whether the event returns line item quantities to stock
func (e Event) restoresStock() bool {
	return e == EventReject
}

func (e Event) eventType() string {
	switch e {
	case EventMarkAvailable:
		return models.EventTypeReservationAvailable
	case EventDeliver:
		return models.EventTypeReservationCompleted
	default:
		return models.EventTypeReservationRejected
	}
}
