package worker

import (
	"context"

	"reservation-service/internal/broker"
	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// StockMirrorWorker keeps the Redis stock mirror in step with lifecycle events
type StockMirrorWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	mirror       *service.StockMirrorService
	logger       *zap.Logger
}

// NewStockMirrorWorker creates a new stock mirror worker
func NewStockMirrorWorker(
	consumer *broker.Consumer,
	mirror *service.StockMirrorService,
) *StockMirrorWorker {
	eventHandler := broker.NewEventHandler()

	// only created and rejected change stock
	eventHandler.On(models.EventTypeReservationCreated, mirror.ApplyEvent)
	eventHandler.On(models.EventTypeReservationRejected, mirror.ApplyEvent)

	return &StockMirrorWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		mirror:       mirror,
		logger:       util.GetLogger(),
	}
}

// Start consumes events until ctx is cancelled
func (w *StockMirrorWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock mirror worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockMirrorWorker) Stop() error {
	w.logger.Info("Stopping stock mirror worker")
	return w.consumer.Close()
}
