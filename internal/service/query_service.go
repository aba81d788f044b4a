package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// StockReader reads mirrored product amounts
type StockReader interface {
	GetStock(ctx context.Context, productID int64) (int, bool, error)
}

// QueryService serves read-only projections. Results reflect the store at
// read time and are not serialized against lifecycle operations.
type QueryService struct {
	store             store.Repository
	stock             StockReader
	lowStockThreshold int
	logger            *zap.Logger
}

// NewQueryService creates a new query service. stock may be nil.
func NewQueryService(repo store.Repository, stock StockReader, lowStockThreshold int) *QueryService {
	return &QueryService{
		store:             repo,
		stock:             stock,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// ReservationSummary is a reservation row for listings
type ReservationSummary struct {
	models.Reservation
	RequesterUser *models.UserRef `json:"requester_user,omitempty"`
	ManagerUser   *models.UserRef `json:"manager_user,omitempty"`
	ItemsCount    int             `json:"items_count"`
	TotalQuantity int             `json:"total_quantity"`
}

// LineItemDetail is a line item joined to its product
type LineItemDetail struct {
	models.ReservationLineItem
	Product *models.Product `json:"product,omitempty"`
}

// ReservationDetails is a reservation with users and products
type ReservationDetails struct {
	models.Reservation
	RequesterUser *models.UserRef  `json:"requester_user,omitempty"`
	ManagerUser   *models.UserRef  `json:"manager_user,omitempty"`
	Items         []LineItemDetail `json:"items"`
}

// StockLevel is the amount of a product and where it was read from
type StockLevel struct {
	ProductID int64  `json:"product_id"`
	Amount    int    `json:"amount"`
	Source    string `json:"source"`
}

// ListReservations lists reservations with user fields and item totals, newest first
func (q *QueryService) ListReservations(ctx context.Context, filter store.ReservationFilter) ([]ReservationSummary, error) {
	ctx, span := util.StartSpan(ctx, "QueryService.ListReservations")
	defer span.End()

	reservations, err := q.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	ids := make([]int64, len(reservations))
	for i, r := range reservations {
		ids[i] = r.ID
	}
	items, err := q.store.GetLineItemsByReservationIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}

	counts := make(map[int64]int)
	quantities := make(map[int64]int)
	for _, item := range items {
		counts[item.ReservationID]++
		quantities[item.ReservationID] += item.Quantity
	}

	users, err := q.usersFor(ctx, reservations)
	if err != nil {
		return nil, err
	}

	summaries := make([]ReservationSummary, 0, len(reservations))
	for _, r := range reservations {
		summaries = append(summaries, ReservationSummary{
			Reservation:   r,
			RequesterUser: users[r.RequesterUserID],
			ManagerUser:   managerRef(users, r.ManagerUserID),
			ItemsCount:    counts[r.ID],
			TotalQuantity: quantities[r.ID],
		})
	}
	return summaries, nil
}

// GetReservationDetails returns one reservation. Requesters only see their own;
// anyone else's reservation reads as not found.
func (q *QueryService) GetReservationDetails(ctx context.Context, reservationID int64, viewer *models.User) (*ReservationDetails, error) {
	ctx, span := util.StartSpan(ctx, "QueryService.GetReservationDetails")
	defer span.End()

	if viewer == nil {
		return nil, ErrUnauthenticated
	}

	r, err := q.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !viewer.IsManager() && r.RequesterUserID != viewer.ID {
		return nil, fmt.Errorf("reservation %d: %w", reservationID, ErrNotFound)
	}

	items, err := q.store.GetLineItemsByReservationIDs(ctx, []int64{r.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}

	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}
	products, err := q.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	users, err := q.usersFor(ctx, []models.Reservation{*r})
	if err != nil {
		return nil, err
	}

	details := &ReservationDetails{
		Reservation:   *r,
		RequesterUser: users[r.RequesterUserID],
		ManagerUser:   managerRef(users, r.ManagerUserID),
		Items:         make([]LineItemDetail, 0, len(items)),
	}
	for _, item := range items {
		details.Items = append(details.Items, LineItemDetail{
			ReservationLineItem: item,
			Product:             productMap[item.ProductID],
		})
	}
	return details, nil
}

// ListProducts returns every product ordered by name
func (q *QueryService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return q.store.GetProducts(ctx)
}

// GetStock reads a product amount from the mirror, falling back to the store
func (q *QueryService) GetStock(ctx context.Context, productID int64) (*StockLevel, error) {
	if q.stock != nil {
		amount, ok, err := q.stock.GetStock(ctx, productID)
		if err != nil {
			q.logger.Warn("Stock mirror read failed, falling back to store",
				zap.Int64("product_id", productID),
				zap.Error(err))
		} else if ok {
			return &StockLevel{ProductID: productID, Amount: amount, Source: "mirror"}, nil
		}
	}

	amount, err := q.store.GetQuantity(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &StockLevel{ProductID: productID, Amount: amount, Source: "store"}, nil
}

func (q *QueryService) usersFor(ctx context.Context, reservations []models.Reservation) (map[int64]*models.UserRef, error) {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range reservations {
		add(r.RequesterUserID)
		if r.ManagerUserID != nil {
			add(*r.ManagerUserID)
		}
	}

	users, err := q.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	refs := make(map[int64]*models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = &models.UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	return refs, nil
}

func managerRef(users map[int64]*models.UserRef, id *int64) *models.UserRef {
	if id == nil {
		return nil
	}
	return users[*id]
}

// DashboardStats summarizes stock and reservation counts
type DashboardStats struct {
	TotalProducts         int `json:"total_products"`
	TotalStock            int `json:"total_stock"`
	TotalReservations     int `json:"total_reservations"`
	PendingReservations   int `json:"pending_reservations"`
	AvailableReservations int `json:"available_reservations"`
	CompletedReservations int `json:"completed_reservations"`
	RejectedReservations  int `json:"rejected_reservations"`
}

// StatusCount is the number of reservations in one status
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ProductQuantity is a product name with a quantity
type ProductQuantity struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// PeriodCounts are reservation counts per status for one period
type PeriodCounts struct {
	Period    string `json:"period"`
	Pending   int    `json:"pending"`
	Available int    `json:"available"`
	Completed int    `json:"completed"`
	Rejected  int    `json:"rejected"`
	Total     int    `json:"total"`
}

func (p *PeriodCounts) add(status string) {
	switch status {
	case models.ReservationStatusPending:
		p.Pending++
	case models.ReservationStatusAvailable:
		p.Available++
	case models.ReservationStatusCompleted:
		p.Completed++
	case models.ReservationStatusRejected:
		p.Rejected++
	}
	p.Total++
}

// DashboardStats counts products, total stock and reservations by status
func (q *QueryService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	products, err := q.store.GetProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	reservations, err := q.store.ListReservations(ctx, store.ReservationFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	stats := &DashboardStats{
		TotalProducts:     len(products),
		TotalReservations: len(reservations),
	}
	for _, p := range products {
		stats.TotalStock += p.Amount
	}
	for _, r := range reservations {
		switch r.Status {
		case models.ReservationStatusPending:
			stats.PendingReservations++
		case models.ReservationStatusAvailable:
			stats.AvailableReservations++
		case models.ReservationStatusCompleted:
			stats.CompletedReservations++
		case models.ReservationStatusRejected:
			stats.RejectedReservations++
		}
	}
	return stats, nil
}

// StatusDistribution returns the non-zero status counts in lifecycle order
func (q *QueryService) StatusDistribution(ctx context.Context) ([]StatusCount, error) {
	reservations, err := q.store.ListReservations(ctx, store.ReservationFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	counts := make(map[string]int)
	for _, r := range reservations {
		counts[r.Status]++
	}

	out := make([]StatusCount, 0, len(models.ReservationStatuses))
	for _, status := range models.ReservationStatuses {
		if counts[status] > 0 {
			out = append(out, StatusCount{Status: status, Count: counts[status]})
		}
	}
	return out, nil
}

// LowStockProducts returns products below the low-stock threshold, lowest first
func (q *QueryService) LowStockProducts(ctx context.Context, limit int) ([]models.Product, error) {
	products, err := q.store.GetProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}

	low := make([]models.Product, 0)
	for _, p := range products {
		if p.Amount < q.lowStockThreshold {
			low = append(low, p)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].Amount < low[j].Amount })
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

// ProductStockLevels returns the products with the most stock, highest first
func (q *QueryService) ProductStockLevels(ctx context.Context, limit int) ([]ProductQuantity, error) {
	products, err := q.store.GetProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}

	sort.SliceStable(products, func(i, j int) bool { return products[i].Amount > products[j].Amount })
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}

	out := make([]ProductQuantity, 0, len(products))
	for _, p := range products {
		out = append(out, ProductQuantity{ProductID: p.ID, Name: p.Name, Quantity: p.Amount})
	}
	return out, nil
}

// TopDeliveredProducts sums line item quantities over completed reservations
func (q *QueryService) TopDeliveredProducts(ctx context.Context, limit int) ([]ProductQuantity, error) {
	completed, err := q.store.ListReservations(ctx, store.ReservationFilter{Status: models.ReservationStatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	if len(completed) == 0 {
		return []ProductQuantity{}, nil
	}

	ids := make([]int64, len(completed))
	for i, r := range completed {
		ids[i] = r.ID
	}
	items, err := q.store.GetLineItemsByReservationIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}

	totals := make(map[int64]int)
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}

	productIDs := make([]int64, 0, len(totals))
	for id := range totals {
		productIDs = append(productIDs, id)
	}
	products, err := q.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	out := make([]ProductQuantity, 0, len(totals))
	for id, total := range totals {
		out = append(out, ProductQuantity{ProductID: id, Name: names[id], Quantity: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ProductID < out[j].ProductID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReservationsByMonth buckets reservations created in the last months by
// calendar month, oldest first. Months without reservations are omitted.
func (q *QueryService) ReservationsByMonth(ctx context.Context, months int, now time.Time) ([]PeriodCounts, error) {
	return q.bucket(ctx, now.AddDate(0, -months, 0), func(t time.Time) (time.Time, string) {
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		return start, start.Format("Jan 2006")
	})
}

// ReservationsByWeek buckets reservations created in the last weeks by
// Sunday-started week, oldest first.
func (q *QueryService) ReservationsByWeek(ctx context.Context, weeks int, now time.Time) ([]PeriodCounts, error) {
	return q.bucket(ctx, now.AddDate(0, 0, -7*weeks), func(t time.Time) (time.Time, string) {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, "Week of " + start.Format("Jan 2")
	})
}

func (q *QueryService) bucket(ctx context.Context, since time.Time, period func(time.Time) (time.Time, string)) ([]PeriodCounts, error) {
	reservations, err := q.store.ListReservations(ctx, store.ReservationFilter{CreatedSince: since})
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	buckets := make(map[time.Time]*PeriodCounts)
	for _, r := range reservations {
		start, label := period(r.CreatedAt)
		b, ok := buckets[start]
		if !ok {
			b = &PeriodCounts{Period: label}
			buckets[start] = b
		}
		b.add(r.Status)
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	out := make([]PeriodCounts, 0, len(starts))
	for _, start := range starts {
		out = append(out, *buckets[start])
	}
	return out, nil
}
