package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapMirror struct {
	stock     map[int64]int
	versions  map[int64]int64
	processed map[string]bool
	setErr    error
}

func newMapMirror() *mapMirror {
	return &mapMirror{stock: map[int64]int{}, versions: map[int64]int64{}, processed: map[string]bool{}}
}

func (m *mapMirror) SetStock(ctx context.Context, productID int64, amount int, version int64) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if current, ok := m.versions[productID]; ok && current > version {
		return false, nil
	}
	m.stock[productID], m.versions[productID] = amount, version
	return true, nil
}

func (m *mapMirror) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	amount, ok := m.stock[productID]
	return amount, ok, nil
}

func (m *mapMirror) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return m.processed[eventID], nil
}

func (m *mapMirror) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	m.processed[eventID] = true
	return nil
}

func message(t *testing.T, id, eventType string, productID int64, qty int) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.ReservationEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now()},
		Items:     []models.LineItemData{{ProductID: productID, Quantity: qty}},
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func moveStock(t *testing.T, repo *store.MemoryStore, productID int64, delta int) {
	t.Helper()
	require.NoError(t, repo.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		if delta < 0 {
			_, err = tx.DecrementStock(context.Background(), productID, -delta)
		} else {
			_, err = tx.IncrementStock(context.Background(), productID, delta)
		}
		return err
	}))
}

func TestStockMirrorWorkerAppliesStockEvents(t *testing.T) {
	repo := store.NewMemoryStore()
	p := repo.AddProduct(models.Product{Name: "Projector", Amount: 10})
	mirror := newMapMirror()
	svc := service.NewStockMirrorService(repo, mirror, time.Hour)
	ctx := context.Background()
	require.NoError(t, svc.Sync(ctx))

	w := NewStockMirrorWorker(nil, svc)

	moveStock(t, repo, p.ID, -4)
	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, "a", models.EventTypeReservationCreated, p.ID, 4)))
	assert.Equal(t, 6, mirror.stock[p.ID])

	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, "a", models.EventTypeReservationCreated, p.ID, 4)))
	assert.Equal(t, 6, mirror.stock[p.ID])

	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, "b", models.EventTypeReservationAvailable, p.ID, 4)))
	assert.Equal(t, 6, mirror.stock[p.ID])
	assert.False(t, mirror.processed["b"])

	moveStock(t, repo, p.ID, 4)
	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, "c", models.EventTypeReservationRejected, p.ID, 4)))
	assert.Equal(t, 10, mirror.stock[p.ID])
}

func TestStockMirrorWorkerReturnsFailedWrites(t *testing.T) {
	repo := store.NewMemoryStore()
	p := repo.AddProduct(models.Product{Name: "Projector", Amount: 10})
	mirror := newMapMirror()
	w := NewStockMirrorWorker(nil, service.NewStockMirrorService(repo, mirror, time.Hour))
	ctx := context.Background()

	moveStock(t, repo, p.ID, -4)
	mirror.setErr = errors.New("connection refused")
	msg := message(t, "a", models.EventTypeReservationCreated, p.ID, 4)
	assert.Error(t, w.eventHandler.HandleMessage(ctx, msg))
	assert.False(t, mirror.processed["a"])

	mirror.setErr = nil
	require.NoError(t, w.eventHandler.HandleMessage(ctx, msg))
	assert.Equal(t, 6, mirror.stock[p.ID])
	assert.True(t, mirror.processed["a"])
}
