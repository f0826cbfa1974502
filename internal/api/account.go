package api

import (
	"net/http"
	"time"

	"subscription-api/internal/middleware"
	"subscription-api/internal/response"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
)

// SignupSubscriptionResponse represents signup completion response
type SignupSubscriptionResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	ClientSecret   *string `json:"client_secret"`
	TrialEnd       *int64  `json:"trial_end"`
	PlanID         string  `json:"plan_id"`
	ProfileUpdated bool    `json:"profile_updated"`
}

// MySubscriptionResponse is the settings page view of the caller's subscription
type MySubscriptionResponse struct {
	SubscriptionID     *string               `json:"subscription_id"`
	SubscriptionStatus string                `json:"subscription_status"`
	CancelAtPeriodEnd  bool                  `json:"cancel_at_period_end"`
	PlanID             string                `json:"plan_id"`
	TrialEnd           *time.Time            `json:"trial_end"`
	IsTrialing         bool                  `json:"is_trialing"`
	IsActive           bool                  `json:"is_active"`
	IsCanceled         bool                  `json:"is_canceled"`
	Subscription       *SubscriptionResponse `json:"subscription"`
}

// GetPlans lists the plans offered at signup
// GET /api/plans
func (h *Handler) GetPlans(c *gin.Context) {
	response.SuccessJSON(c, gin.H{"plans": h.Signup.Plans()})
}

// CompleteSignup subscribes the signed-in user to a plan
// POST /api/signup/subscription
func (h *Handler) CompleteSignup(c *gin.Context) {
	var req services.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.Signup.CompleteSignup(c.Request.Context(), middleware.CurrentSession(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	sub := result.Subscription
	response.SuccessJSON(c, SignupSubscriptionResponse{
		ID:             sub.ID,
		Status:         sub.Status,
		ClientSecret:   optionalString(sub.ClientSecret),
		TrialEnd:       optional(sub.TrialEnd),
		PlanID:         result.PlanID,
		ProfileUpdated: result.ProfileUpdated,
	})
}

// GetMySubscription returns the signed-in user's subscription settings
// GET /api/me/subscription
func (h *Handler) GetMySubscription(c *gin.Context) {
	session := middleware.CurrentSession(c)
	settings, err := h.Accounts.Settings(c.Request.Context(), session.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := MySubscriptionResponse{
		SubscriptionID:     settings.SubscriptionID,
		SubscriptionStatus: settings.SubscriptionStatus,
		CancelAtPeriodEnd:  settings.CancelAtPeriodEnd,
		PlanID:             settings.PlanID,
		TrialEnd:           settings.TrialEnd,
		IsTrialing:         settings.IsTrialing,
		IsActive:           settings.IsActive,
		IsCanceled:         settings.IsCanceled,
	}
	if settings.Live != nil {
		live := toSubscriptionResponse(settings.Live)
		resp.Subscription = &live
	}
	response.SuccessJSON(c, resp)
}

// CustomerPortal redirects to the hosted billing portal
// GET /api/customer-portal
func (h *Handler) CustomerPortal(c *gin.Context) {
	session := middleware.CurrentSession(c)
	url, err := h.Accounts.PortalURL(c.Request.Context(), session.UserID, c.GetHeader("Origin"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, url)
}
