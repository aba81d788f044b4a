package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func eventOfType(eventType string) interface{} {
	return mock.MatchedBy(func(e *models.ReservationEvent) bool {
		return e.EventType == eventType
	})
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.keys[key]
	return val, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = fmt.Sprint(value)
	return nil
}

type fixture struct {
	store     *store.MemoryStore
	svc       *ReservationService
	requester models.User
	manager   models.User
	p1, p2    models.Product
}

func newFixture(t *testing.T, publisher EventPublisher) *fixture {
	t.Helper()

	m := store.NewMemoryStore()
	f := &fixture{
		store:     m,
		requester: m.AddUser(models.User{Name: "Rita", Email: "rita@example.com", Role: models.RoleRequester}),
		manager:   m.AddUser(models.User{Name: "Max", Email: "max@example.com", Role: models.RoleManager}),
		p1:        m.AddProduct(models.Product{Name: "Projector", Amount: 5}),
		p2:        m.AddProduct(models.Product{Name: "Tripod", Amount: 5}),
	}
	f.svc = NewReservationService(m, publisher, nil, time.Hour)
	return f
}

func (f *fixture) quantity(t *testing.T, productID int64) int {
	t.Helper()
	qty, err := f.store.GetQuantity(context.Background(), productID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) status(t *testing.T, reservationID int64) string {
	t.Helper()
	r, err := f.store.GetReservationByID(context.Background(), reservationID)
	require.NoError(t, err)
	return r.Status
}

func (f *fixture) create(t *testing.T, items ...LineItemRequest) int64 {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{Items: items})
	require.NoError(t, err)
	return resp.ReservationID
}

func TestCreateDecrementsStock(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishReservationEvent", mock.Anything, eventOfType(models.EventTypeReservationCreated)).
		Return(nil).Once()
	f := newFixture(t, publisher)

	resp, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
		Items: []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: 3},
			{ProductID: f.p2.ID, Quantity: 2},
		},
		Reason: "workshop",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, resp.Status)

	assert.Equal(t, 2, f.quantity(t, f.p1.ID))
	assert.Equal(t, 3, f.quantity(t, f.p2.ID))

	r, err := f.store.GetReservationByID(context.Background(), resp.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, f.requester.ID, r.RequesterUserID)
	assert.Equal(t, f.requester.ID, r.CreatedUserID)
	assert.Nil(t, r.ManagerUserID)
	assert.Nil(t, r.UpdatedUserID)
	require.NotNil(t, r.Reason)
	assert.Equal(t, "workshop", *r.Reason)

	items, err := f.store.GetLineItemsByReservationIDs(context.Background(), []int64{r.ID})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	publisher.AssertExpectations(t)
}

func TestCreateEmptyOrder(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{})
	assert.ErrorIs(t, err, ErrEmptyOrder)

	reservations, err := f.store.ListReservations(context.Background(), store.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, reservations)
	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
}

func TestCreateInvalidQuantity(t *testing.T) {
	f := newFixture(t, nil)

	for _, qty := range []int{0, -1} {
		_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
			Items: []LineItemRequest{
				{ProductID: f.p1.ID, Quantity: 1},
				{ProductID: f.p2.ID, Quantity: qty},
			},
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}

	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
	assert.Equal(t, 5, f.quantity(t, f.p2.ID))
}

func TestCreateInsufficientStockIsAllOrNothing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
		Items: []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: 2},
			{ProductID: f.p2.ID, Quantity: 6},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, f.p2.ID, stockErr.ProductID)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)

	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
	assert.Equal(t, 5, f.quantity(t, f.p2.ID))

	reservations, err := f.store.ListReservations(context.Background(), store.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestCreateQuantityLimits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		items []LineItemRequest
	}{
		{"repeated max int", []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: math.MaxInt},
			{ProductID: f.p1.ID, Quantity: math.MaxInt},
		}},
		{"above column bound", []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: MaxQuantity + 1},
		}},
		{"merged above column bound", []LineItemRequest{
			{ProductID: f.p2.ID, Quantity: 1},
			{ProductID: f.p1.ID, Quantity: MaxQuantity},
			{ProductID: f.p1.ID, Quantity: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.requester.ID, &CreateReservationRequest{Items: tt.items})
			require.ErrorIs(t, err, ErrInvalidQuantity)

			var quantityErr *QuantityError
			require.True(t, errors.As(err, &quantityErr))
			assert.Equal(t, f.p1.ID, quantityErr.ProductID)
		})
	}

	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
	assert.Equal(t, 5, f.quantity(t, f.p2.ID))

	reservations, err := f.store.ListReservations(ctx, store.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, reservations)

	// the bound itself is a valid quantity, just more than is stocked
	_, err = f.svc.Create(ctx, f.requester.ID, &CreateReservationRequest{
		Items: []LineItemRequest{{ProductID: f.p1.ID, Quantity: MaxQuantity}},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCreateMergesRepeatedProducts(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
		Items: []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: 3},
			{ProductID: f.p1.ID, Quantity: 3},
		},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, f.quantity(t, f.p1.ID))

	id := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 2}, LineItemRequest{ProductID: f.p1.ID, Quantity: 1})
	items, err := f.store.GetLineItemsByReservationIDs(context.Background(), []int64{id})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 2, f.quantity(t, f.p1.ID))
}

func TestCreateUnknownProduct(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
		Items: []LineItemRequest{
			{ProductID: f.p1.ID, Quantity: 1},
			{ProductID: 999, Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
}

func TestCreateRequiresPrincipal(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), 0, &CreateReservationRequest{
		Items: []LineItemRequest{{ProductID: f.p1.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Create(context.Background(), 12345, &CreateReservationRequest{
		Items: []LineItemRequest{{ProductID: f.p1.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	f.svc = NewReservationService(f.store, nil, &memoryIdempotency{keys: map[string]string{}}, time.Hour)

	req := &CreateReservationRequest{
		Items:          []LineItemRequest{{ProductID: f.p1.ID, Quantity: 2}},
		IdempotencyKey: "form-submit-1",
	}
	first, err := f.svc.Create(context.Background(), f.requester.ID, req)
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), f.requester.ID, req)
	require.NoError(t, err)

	assert.Equal(t, first.ReservationID, second.ReservationID)
	assert.Equal(t, 3, f.quantity(t, f.p1.ID))
}

func TestLifecycleHappyPath(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishReservationEvent", mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, publisher)
	ctx := context.Background()

	id := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 2})

	r, err := f.svc.MarkAvailable(ctx, id, f.manager.ID, "shelf B")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusAvailable, r.Status)
	require.NotNil(t, r.ManagerUserID)
	assert.Equal(t, f.manager.ID, *r.ManagerUserID)
	require.NotNil(t, r.UpdatedUserID)
	assert.Equal(t, f.manager.ID, *r.UpdatedUserID)
	require.NotNil(t, r.ManagerComment)
	assert.Equal(t, "shelf B", *r.ManagerComment)

	r, err = f.svc.Deliver(ctx, id, f.manager.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCompleted, r.Status)
	assert.Equal(t, "shelf B", *r.ManagerComment)

	assert.Equal(t, 3, f.quantity(t, f.p1.ID))

	publisher.AssertNumberOfCalls(t, "PublishReservationEvent", 3)
	publisher.AssertCalled(t, "PublishReservationEvent", mock.Anything, eventOfType(models.EventTypeReservationAvailable))
	publisher.AssertCalled(t, "PublishReservationEvent", mock.Anything, eventOfType(models.EventTypeReservationCompleted))
}

func TestDeliverFromPendingIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 1})

	_, err := f.svc.Deliver(context.Background(), id, f.manager.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	var transitionErr *TransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, models.ReservationStatusPending, transitionErr.From)
	assert.Equal(t, EventDeliver, transitionErr.Event)

	assert.Equal(t, models.ReservationStatusPending, f.status(t, id))
	assert.Equal(t, 4, f.quantity(t, f.p1.ID))
}

func TestRejectRestoresStockAdditively(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishReservationEvent", mock.Anything, mock.Anything).Return(nil)
	f := newFixture(t, publisher)
	ctx := context.Background()

	id := f.create(t,
		LineItemRequest{ProductID: f.p1.ID, Quantity: 3},
		LineItemRequest{ProductID: f.p2.ID, Quantity: 1},
	)
	f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 2})
	require.Equal(t, 0, f.quantity(t, f.p1.ID))

	r, err := f.svc.Reject(ctx, id, f.manager.ID, "out of season")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusRejected, r.Status)
	require.NotNil(t, r.ManagerUserID)
	assert.Equal(t, f.manager.ID, *r.ManagerUserID)

	assert.Equal(t, 3, f.quantity(t, f.p1.ID))
	assert.Equal(t, 5, f.quantity(t, f.p2.ID))

	publisher.AssertCalled(t, "PublishReservationEvent", mock.Anything, mock.MatchedBy(func(e *models.ReservationEvent) bool {
		return e.EventType == models.EventTypeReservationRejected && len(e.Items) == 2
	}))
}

func TestRejectFromAvailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id := f.create(t, LineItemRequest{ProductID: f.p2.ID, Quantity: 4})
	_, err := f.svc.MarkAvailable(ctx, id, f.manager.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, id, f.manager.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, f.quantity(t, f.p2.ID))
}

func TestCreateThenRejectRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	before1, before2 := f.quantity(t, f.p1.ID), f.quantity(t, f.p2.ID)

	id := f.create(t,
		LineItemRequest{ProductID: f.p1.ID, Quantity: 5},
		LineItemRequest{ProductID: f.p2.ID, Quantity: 1},
	)
	_, err := f.svc.Reject(context.Background(), id, f.manager.ID, "")
	require.NoError(t, err)

	assert.Equal(t, before1, f.quantity(t, f.p1.ID))
	assert.Equal(t, before2, f.quantity(t, f.p2.ID))
}

func TestTerminalStatesRejectEveryEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	completed := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 1})
	_, err := f.svc.MarkAvailable(ctx, completed, f.manager.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, completed, f.manager.ID, "")
	require.NoError(t, err)

	rejected := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 1})
	_, err = f.svc.Reject(ctx, rejected, f.manager.ID, "")
	require.NoError(t, err)

	stock := f.quantity(t, f.p1.ID)

	ops := map[string]func(context.Context, int64, int64, string) (*models.Reservation, error){
		"mark available": f.svc.MarkAvailable,
		"deliver":        f.svc.Deliver,
		"reject":         f.svc.Reject,
	}
	for _, id := range []int64{completed, rejected} {
		want := f.status(t, id)
		for name, op := range ops {
			_, err := op(ctx, id, f.manager.ID, "again")
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", name, want)
			assert.Equal(t, want, f.status(t, id))
		}
	}
	assert.Equal(t, stock, f.quantity(t, f.p1.ID))
}

func TestTransitionUnknownReservation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Reject(context.Background(), 404, f.manager.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.MarkAvailable(context.Background(), 404, 0, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	publisher := &mockPublisher{}
	publisher.On("PublishReservationEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f := newFixture(t, publisher)

	id := f.create(t, LineItemRequest{ProductID: f.p1.ID, Quantity: 1})
	_, err := f.svc.Reject(context.Background(), id, f.manager.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 5, f.quantity(t, f.p1.ID))
}

func TestConcurrentCreatesNeverOversell(t *testing.T) {
	f := newFixture(t, nil)

	const workers = 20
	var (
		wg        sync.WaitGroup
		succeeded int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), f.requester.ID, &CreateReservationRequest{
				Items: []LineItemRequest{{ProductID: f.p1.ID, Quantity: 2}},
			})
			if err == nil {
				atomic.AddInt64(&succeeded, 1)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), succeeded)
	assert.Equal(t, 1, f.quantity(t, f.p1.ID))
}

func TestConcurrentCreateAndRejectKeepStockConsistent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.create(t, LineItemRequest{ProductID: f.p2.ID, Quantity: 1}))
	}
	require.Equal(t, 0, f.quantity(t, f.p2.ID))

	var (
		wg      sync.WaitGroup
		created int64
	)
	for _, id := range ids {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.Reject(ctx, id, f.manager.ID, "")
			assert.NoError(t, err)
		}(id)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Create(ctx, f.requester.ID, &CreateReservationRequest{
				Items: []LineItemRequest{{ProductID: f.p2.ID, Quantity: 1}},
			}); err == nil {
				atomic.AddInt64(&created, 1)
			}
		}()
	}
	wg.Wait()

	qty := f.quantity(t, f.p2.ID)
	assert.GreaterOrEqual(t, qty, 0)
	assert.Equal(t, 5, qty+int(created))
}

func TestNormalizeItems(t *testing.T) {
	items, err := normalizeItems([]LineItemRequest{
		{ProductID: 9, Quantity: 1},
		{ProductID: 2, Quantity: 4},
		{ProductID: 9, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.LineItemData{
		{ProductID: 2, Quantity: 4},
		{ProductID: 9, Quantity: 3},
	}, items)

	_, err = normalizeItems(nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)
}
