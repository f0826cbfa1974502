package api

import (
	"errors"
	"net/http"

	"subscription-api/internal/metrics"
	"subscription-api/internal/middleware"
	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Handler holds the services behind the HTTP routes
type Handler struct {
	Subscriptions *services.SubscriptionService
	Signup        *services.SignupService
	Accounts      *services.AccountService
	Dashboard     *services.DashboardService
	Webhooks      *services.WebhookService
	Sessions      *services.SessionService
	Metrics       *metrics.Collector
	RateLimiter   *middleware.IPRateLimiter
	ServiceName   string
}

// writeError maps a service error to its status code and error body
func writeError(c *gin.Context, err error) {
	var upstreamErr *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrValidation):
		response.ErrorJSON(c, http.StatusBadRequest, services.ErrorMessage(err))
	case errors.Is(err, services.ErrNotFound):
		response.ErrorJSON(c, http.StatusNotFound, services.ErrorMessage(err))
	case errors.Is(err, services.ErrUnauthorized):
		response.ErrorJSON(c, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, services.ErrForbidden):
		response.ErrorJSON(c, http.StatusForbidden, "Forbidden: Admin access required")
	case errors.Is(err, services.ErrConflict):
		response.ErrorJSON(c, http.StatusConflict, "An identical request is already in progress")
	case errors.As(err, &upstreamErr):
		logging.Errorf("Upstream failure - path: %s, error: %v", c.Request.URL.Path, err)
		response.ErrorJSON(c, http.StatusInternalServerError, upstreamErr.Error())
	default:
		logging.Errorf("Unexpected failure - path: %s, error: %v", c.Request.URL.Path, err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Internal server error")
	}
}

// optional renders a zero unix timestamp as null
func optional(ts int64) *int64 {
	if ts == 0 {
		return nil
	}
	return &ts
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
