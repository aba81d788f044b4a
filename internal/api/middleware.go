package api

import (
	"strconv"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
)

// UserEmailHeader carries the email the identity provider authenticated
const UserEmailHeader = "X-User-Email"

const principalKey = "principal"

// authenticate resolves the forwarded email to a user or aborts with 401
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.users.ResolvePrincipal(c.Request.Context(), c.GetHeader(UserEmailHeader))
		if err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}

		c.Set(principalKey, user)
		c.Next()
	}
}

// requireManager aborts with 403 unless the principal is a manager
func (h *Handler) requireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.RequireManager(principal(c)); err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) *models.User {
	if v, ok := c.Get(principalKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
