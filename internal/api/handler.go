package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	reservations *service.ReservationService
	queries      *service.QueryService
	users        *service.UserService
	checks       []Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(
	reservations *service.ReservationService,
	queries *service.QueryService,
	users *service.UserService,
	checks ...Pinger,
) *Handler {
	return &Handler{
		reservations: reservations,
		queries:      queries,
		users:        users,
		checks:       checks,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, serviceName string) {
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.authenticate())
	{
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations", h.listReservations)
		v1.GET("/reservations/:id", h.getReservation)

		v1.POST("/reservations/:id/available", h.requireManager(), h.markAvailable)
		v1.POST("/reservations/:id/deliver", h.requireManager(), h.deliver)
		v1.POST("/reservations/:id/reject", h.requireManager(), h.reject)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id/stock", h.getStock)

		dashboard := v1.Group("/dashboard", h.requireManager())
		{
			dashboard.GET("/stats", h.dashboardStats)
			dashboard.GET("/status-distribution", h.statusDistribution)
			dashboard.GET("/low-stock", h.lowStock)
			dashboard.GET("/stock-levels", h.stockLevels)
			dashboard.GET("/top-delivered", h.topDelivered)
			dashboard.GET("/monthly", h.reservationsByMonth)
			dashboard.GET("/weekly", h.reservationsByWeek)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once every dependency answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createReservation handles reservation creation for the calling user
func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.reservations.Create(c.Request.Context(), principal(c).ID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listReservations lists all reservations for managers and the caller's own otherwise
func (h *Handler) listReservations(c *gin.Context) {
	user := principal(c)

	filter := store.ReservationFilter{Status: c.Query("status")}
	if filter.Status != "" && !models.IsValidStatus(filter.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	if user.IsManager() {
		if raw := c.Query("requester_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid requester ID"})
				return
			}
			filter.RequesterID = id
		}
	} else {
		filter.RequesterID = user.ID
	}

	summaries, err := h.queries.ListReservations(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": summaries})
}

// getReservation handles get reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	reservationID, ok := pathID(c, "Invalid reservation ID")
	if !ok {
		return
	}

	details, err := h.queries.GetReservationDetails(c.Request.Context(), reservationID, principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

type transitionRequest struct {
	Comment string `json:"comment"`
}

type transitionFunc func(ctx context.Context, reservationID, managerID int64, comment string) (*models.Reservation, error)

func (h *Handler) markAvailable(c *gin.Context) {
	h.transition(c, h.reservations.MarkAvailable)
}

func (h *Handler) deliver(c *gin.Context) {
	h.transition(c, h.reservations.Deliver)
}

func (h *Handler) reject(c *gin.Context) {
	h.transition(c, h.reservations.Reject)
}

// transition applies a manager action; the JSON body with a comment is optional
func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	reservationID, ok := pathID(c, "Invalid reservation ID")
	if !ok {
		return
	}

	var req transitionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	reservation, err := fn(c.Request.Context(), reservationID, principal(c).ID, req.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.queries.ListProducts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getStock(c *gin.Context) {
	productID, ok := pathID(c, "Invalid product ID")
	if !ok {
		return
	}

	level, err := h.queries.GetStock(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, level)
}

func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.queries.DashboardStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) statusDistribution(c *gin.Context) {
	counts, err := h.queries.StatusDistribution(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": counts})
}

func (h *Handler) lowStock(c *gin.Context) {
	products, err := h.queries.LowStockProducts(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) stockLevels(c *gin.Context) {
	levels, err := h.queries.ProductStockLevels(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": levels})
}

func (h *Handler) topDelivered(c *gin.Context) {
	products, err := h.queries.TopDeliveredProducts(c.Request.Context(), queryInt(c, "limit", 5))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) reservationsByMonth(c *gin.Context) {
	periods, err := h.queries.ReservationsByMonth(c.Request.Context(), queryInt(c, "months", 6), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}

func (h *Handler) reservationsByWeek(c *gin.Context) {
	periods, err := h.queries.ReservationsByWeek(c.Request.Context(), queryInt(c, "weeks", 4), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"periods": periods})
}

// respondError writes the status an error kind maps to. Unclassified errors
// are logged and answered with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}
	c.JSON(status, body)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrEmptyOrder):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, defaultVal int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
