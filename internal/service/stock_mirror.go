package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// StockMirror is a fast read-side copy of product amounts. Writes carry a
// version and never replace a newer one.
type StockMirror interface {
	SetStock(ctx context.Context, productID int64, amount int, version int64) (bool, error)
	GetStock(ctx context.Context, productID int64) (int, bool, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

// StockMirrorService keeps the mirror in step with the store. The store stays
// the source of truth; the mirror may lag behind it.
type StockMirrorService struct {
	store    store.Repository
	mirror   StockMirror
	dedupTTL time.Duration
	logger   *zap.Logger
}

// NewStockMirrorService creates a new stock mirror service
func NewStockMirrorService(repo store.Repository, mirror StockMirror, dedupTTL time.Duration) *StockMirrorService {
	return &StockMirrorService{
		store:    repo,
		mirror:   mirror,
		dedupTTL: dedupTTL,
		logger:   util.GetLogger(),
	}
}

// stockVersion orders mirror writes by when the store last changed the product
func stockVersion(p *models.Product) int64 {
	return p.UpdatedAt.UnixMicro()
}

// Sync copies every product amount from the store into the mirror
func (m *StockMirrorService) Sync(ctx context.Context) error {
	m.logger.Info("Starting stock mirror sync")

	products, err := m.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for i := range products {
		if _, err := m.mirror.SetStock(ctx, products[i].ID, products[i].Amount, stockVersion(&products[i])); err != nil {
			m.logger.Error("Failed to mirror stock",
				zap.Int64("product_id", products[i].ID),
				zap.Error(err))
		}
	}

	m.logger.Info("Stock mirror sync completed", zap.Int("count", len(products)))
	return nil
}

// ApplyEvent re-reads every product whose stock the event changed and writes
// it to the mirror. Reapplying an event is harmless, so a failed event is
// returned for redelivery and only marked processed once every write landed.
func (m *StockMirrorService) ApplyEvent(ctx context.Context, event *models.ReservationEvent) error {
	ctx, span := util.StartSpan(ctx, "StockMirrorService.ApplyEvent")
	defer span.End()

	seen, err := m.mirror.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		util.StockMirrorEventsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if seen {
		util.StockMirrorEventsTotal.WithLabelValues("duplicate").Inc()
		m.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	for _, item := range event.Items {
		if event.StockDelta(item) == 0 {
			continue
		}
		if err := m.refresh(ctx, item.ProductID); err != nil {
			util.RecordError(span, err)
			util.StockMirrorEventsTotal.WithLabelValues("error").Inc()
			return err
		}
	}

	if err := m.mirror.MarkEventProcessed(ctx, event.EventID, m.dedupTTL); err != nil {
		m.logger.Warn("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}

	util.StockMirrorEventsTotal.WithLabelValues("applied").Inc()
	return nil
}

// refresh writes the store's current amount of a product to the mirror
func (m *StockMirrorService) refresh(ctx context.Context, productID int64) error {
	product, err := m.store.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Mirrored product no longer exists", zap.Int64("product_id", productID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read product %d: %w", productID, err)
	}

	written, err := m.mirror.SetStock(ctx, product.ID, product.Amount, stockVersion(product))
	if err != nil {
		return fmt.Errorf("failed to mirror stock for product %d: %w", productID, err)
	}
	if !written {
		m.logger.Debug("Mirror already holds a newer amount", zap.Int64("product_id", productID))
	}
	return nil
}
