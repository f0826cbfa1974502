package api

import (
	"net/http"

	"subscription-api/internal/middleware"
	"subscription-api/internal/response"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		response.ErrorJSON(c, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		response.ErrorJSON(c, http.StatusNotFound, "Not found")
	})

	limited := middleware.RateLimit(h.RateLimiter)
	requireSession := middleware.RequireSession(h.Sessions)
	requireAdmin := middleware.RequireAdmin(h.Sessions)

	api := r.Group("/api")
	{
		// Billing provider routes (called by the signup and settings pages)
		api.POST("/create-subscription", limited, h.CreateSubscription)

		subscription := api.Group("/subscription/:id")
		{
			subscription.GET("", h.GetSubscription)
			subscription.POST("/cancel", h.CancelSubscription)
			subscription.POST("/resume", h.ResumeSubscription)
		}

		api.GET("/plans", h.GetPlans)

		// Routes for the signed-in user
		account := api.Group("")
		account.Use(requireSession)
		{
			account.POST("/signup/subscription", limited, h.CompleteSignup)
			account.GET("/me/subscription", h.GetMySubscription)
			account.GET("/customer-portal", h.CustomerPortal)
		}

		// Admin routes (session and admin registry entry required)
		admin := api.Group("/admin")
		admin.Use(requireSession, requireAdmin)
		{
			admin.GET("/dashboard", h.GetDashboard)
			admin.POST("/users/:userId/block", h.SetUserBlocked)
			admin.POST("/subscription/:id/reactivate", h.AdminReactivateSubscription)
			admin.POST("/subscription/:id/cancel", h.AdminCancelSubscription)
		}

		// Provider webhook (signature verified, no session)
		api.POST("/stripe/webhook", h.StripeWebhook)
	}

	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": h.ServiceName,
		})
	})
}
