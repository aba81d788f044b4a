package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventPublisher publishes committed lifecycle steps
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error
}

// IdempotencyStore remembers which reservation a client key produced
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ReservationService is the reservation lifecycle engine
type ReservationService struct {
	store          store.Repository
	publisher      EventPublisher
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewReservationService creates a new reservation service.
// publisher and idempotency may be nil.
func NewReservationService(
	repo store.Repository,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	idempotencyTTL time.Duration,
) *ReservationService {
	return &ReservationService{
		store:          repo,
		publisher:      publisher,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// CreateReservationRequest represents a request to create a reservation
type CreateReservationRequest struct {
	Items          []LineItemRequest `json:"items"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// LineItemRequest represents a requested product quantity
type LineItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CreateReservationResponse represents the response after creating a reservation
type CreateReservationResponse struct {
	ReservationID int64  `json:"reservation_id"`
	Status        string `json:"status"`
}

// Create validates the items against current stock, persists a pending
// reservation and decrements stock, all in one transaction.
func (s *ReservationService) Create(ctx context.Context, requesterID int64, req *CreateReservationRequest) (*CreateReservationResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create", attribute.Int64("requester_id", requesterID))
	defer span.End()

	resp, err := s.create(ctx, requesterID, req)
	if err != nil {
		util.RecordError(span, err)
		util.ReservationsFailedTotal.WithLabelValues("create", failureReason(err)).Inc()
		return nil, err
	}
	return resp, nil
}

func (s *ReservationService) create(ctx context.Context, requesterID int64, req *CreateReservationRequest) (*CreateReservationResponse, error) {
	if requesterID == 0 {
		return nil, ErrUnauthenticated
	}

	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	if existing, ok := s.lookupIdempotent(ctx, requesterID, req.IdempotencyKey); ok {
		s.logger.Info("Duplicate reservation request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("reservation_id", existing.ID))
		return &CreateReservationResponse{ReservationID: existing.ID, Status: existing.Status}, nil
	}

	reservation := &models.Reservation{
		Status:          models.ReservationStatusPending,
		RequesterUserID: requesterID,
		CreatedUserID:   requesterID,
	}
	if req.Reason != "" {
		reason := req.Reason
		reservation.Reason = &reason
	}

	start := time.Now()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, item := range items {
			available, err := tx.GetQuantity(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if available < item.Quantity {
				return &InsufficientStockError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: available,
				}
			}
		}

		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}

		lineItems := make([]models.ReservationLineItem, 0, len(items))
		for _, item := range items {
			lineItems = append(lineItems, models.ReservationLineItem{
				ReservationID: reservation.ID,
				ProductID:     item.ProductID,
				Quantity:      item.Quantity,
			})
		}
		if err := tx.CreateLineItems(ctx, lineItems); err != nil {
			return fmt.Errorf("failed to create line items: %w", err)
		}

		for _, item := range items {
			if _, err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	util.StockAdjustmentLatency.WithLabelValues("create").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	util.StockUnitsAdjustedTotal.WithLabelValues("decrement").Add(float64(totalQuantity(items)))
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", reservation.ID),
		zap.Int64("requester_id", requesterID),
		zap.Int("items", len(items)))

	s.rememberIdempotent(ctx, requesterID, req.IdempotencyKey, reservation.ID)
	s.publish(ctx, models.EventTypeReservationCreated, reservation.ID, reservation.Status, requesterID, items)

	return &CreateReservationResponse{
		ReservationID: reservation.ID,
		Status:        reservation.Status,
	}, nil
}

// MarkAvailable moves a pending reservation to available
func (s *ReservationService) MarkAvailable(ctx context.Context, reservationID, managerID int64, comment string) (*models.Reservation, error) {
	return s.transition(ctx, reservationID, managerID, EventMarkAvailable, comment)
}

// Deliver moves an available reservation to completed
func (s *ReservationService) Deliver(ctx context.Context, reservationID, managerID int64, comment string) (*models.Reservation, error) {
	return s.transition(ctx, reservationID, managerID, EventDeliver, comment)
}

// Reject moves a pending or available reservation to rejected and restores
// every line item quantity to stock.
func (s *ReservationService) Reject(ctx context.Context, reservationID, managerID int64, comment string) (*models.Reservation, error) {
	return s.transition(ctx, reservationID, managerID, EventReject, comment)
}

func (s *ReservationService) transition(ctx context.Context, reservationID, managerID int64, event Event, comment string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Transition",
		attribute.Int64("reservation_id", reservationID),
		attribute.String("event", string(event)))
	defer span.End()

	operation := string(event)
	if managerID == 0 {
		util.ReservationsFailedTotal.WithLabelValues(operation, failureReason(ErrUnauthenticated)).Inc()
		return nil, ErrUnauthenticated
	}

	update := store.StatusUpdate{ManagerID: managerID}
	if comment != "" {
		update.Comment = &comment
	}

	var (
		updated  *models.Reservation
		restored []models.LineItemData
	)
	start := time.Now()
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}

		next, err := NextStatus(current.Status, event)
		if err != nil {
			return err
		}
		update.Status = next

		if event.restoresStock() {
			items, err := tx.GetLineItems(ctx, reservationID)
			if err != nil {
				return fmt.Errorf("failed to get line items: %w", err)
			}
			sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

			for _, item := range items {
				if _, err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return err
				}
				restored = append(restored, models.LineItemData{ProductID: item.ProductID, Quantity: item.Quantity})
			}
		}

		updated, err = tx.UpdateReservationStatus(ctx, reservationID, update)
		return err
	})
	if event.restoresStock() {
		util.StockAdjustmentLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		util.RecordError(span, err)
		util.ReservationsFailedTotal.WithLabelValues(operation, failureReason(err)).Inc()
		if errors.Is(err, ErrInvalidTransition) {
			s.logger.Warn("Rejected reservation transition",
				zap.Int64("reservation_id", reservationID),
				zap.String("event", operation),
				zap.Error(err))
		}
		return nil, err
	}

	util.ReservationTransitionsTotal.WithLabelValues(updated.Status).Inc()
	if len(restored) > 0 {
		util.StockUnitsAdjustedTotal.WithLabelValues("restore").Add(float64(totalQuantity(restored)))
	}
	s.logger.Info("Reservation transitioned",
		zap.Int64("reservation_id", reservationID),
		zap.Int64("manager_id", managerID),
		zap.String("status", updated.Status))

	s.publish(ctx, event.eventType(), reservationID, updated.Status, managerID, restored)
	return updated, nil
}

// MaxQuantity is the largest quantity one line item can hold, the bound of
// the quantity column.
const MaxQuantity = math.MaxInt32

// normalizeItems validates requested items, merges repeated products and
// orders them by product id so row locks are always taken in the same order.
func normalizeItems(items []LineItemRequest) ([]models.LineItemData, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	merged := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, &QuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		// merged totals stay within MaxQuantity
		if merged[item.ProductID] > MaxQuantity-item.Quantity {
			return nil, &QuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		merged[item.ProductID] += item.Quantity
	}

	out := make([]models.LineItemData, 0, len(merged))
	for productID, quantity := range merged {
		out = append(out, models.LineItemData{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func totalQuantity(items []models.LineItemData) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func idempotencyKey(requesterID int64, key string) string {
	return fmt.Sprintf("reservation:%d:%s", requesterID, key)
}

// lookupIdempotent returns the reservation an earlier request with the same key created
func (s *ReservationService) lookupIdempotent(ctx context.Context, requesterID int64, key string) (*models.Reservation, bool) {
	if key == "" || s.idempotency == nil {
		return nil, false
	}

	val, ok, err := s.idempotency.GetIdempotencyKey(ctx, idempotencyKey(requesterID, key))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, false
	}
	reservation, err := s.store.GetReservationByID(ctx, id)
	if err != nil {
		return nil, false
	}
	return reservation, true
}

func (s *ReservationService) rememberIdempotent(ctx context.Context, requesterID int64, key string, reservationID int64) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.SetIdempotencyKey(ctx, idempotencyKey(requesterID, key), reservationID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.String("idempotency_key", key), zap.Error(err))
	}
}

func (s *ReservationService) publish(ctx context.Context, eventType string, reservationID int64, status string, actorID int64, items []models.LineItemData) {
	if s.publisher == nil {
		return
	}

	event := &models.ReservationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		ReservationID: reservationID,
		Status:        status,
		ActorUserID:   actorID,
		Items:         items,
	}

	if err := s.publisher.PublishReservationEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.Int64("reservation_id", reservationID),
			zap.Error(err))
	}
}
