package api

import (
	"net/http"

	"subscription-api/internal/billing"
	"subscription-api/internal/response"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
)

// CreateSubscriptionResponse represents create subscription response
type CreateSubscriptionResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	ClientSecret *string `json:"client_secret"`
	TrialEnd     *int64  `json:"trial_end"`
}

// SubscriptionResponse is the projection returned by the retrieve endpoint
type SubscriptionResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart *int64 `json:"current_period_start"`
	CurrentPeriodEnd   *int64 `json:"current_period_end"`
	CancelAt           *int64 `json:"cancel_at"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	TrialStart         *int64 `json:"trial_start"`
	TrialEnd           *int64 `json:"trial_end"`
}

// CancelSubscriptionResponse represents cancel subscription response
type CancelSubscriptionResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAt          *int64 `json:"cancel_at"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// StatusResponse represents resume and reactivate responses
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func toSubscriptionResponse(sub *billing.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                 sub.ID,
		Status:             sub.Status,
		CurrentPeriodStart: optional(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   optional(sub.CurrentPeriodEnd),
		CancelAt:           optional(sub.CancelAt),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		TrialStart:         optional(sub.TrialStart),
		TrialEnd:           optional(sub.TrialEnd),
	}
}

func toCancelResponse(sub *billing.Subscription) CancelSubscriptionResponse {
	return CancelSubscriptionResponse{
		ID:                sub.ID,
		Status:            sub.Status,
		CancelAt:          optional(sub.CancelAt),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// CreateSubscription creates a subscription
// POST /api/create-subscription
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req services.CreateSubscriptionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.Subscriptions.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if created.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}

	response.SuccessJSON(c, CreateSubscriptionResponse{
		ID:           created.ID,
		Status:       created.Status,
		ClientSecret: optionalString(created.ClientSecret),
		TrialEnd:     optional(created.TrialEnd),
	})
}

// GetSubscription reads a subscription
// GET /api/subscription/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.Subscriptions.Retrieve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, toSubscriptionResponse(sub))
}

// CancelSubscription schedules cancellation at period end
// POST /api/subscription/:id/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	sub, err := h.Subscriptions.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, toCancelResponse(sub))
}

// ResumeSubscription clears a scheduled cancellation
// POST /api/subscription/:id/resume
func (h *Handler) ResumeSubscription(c *gin.Context) {
	sub, err := h.Subscriptions.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, StatusResponse{ID: sub.ID, Status: sub.Status})
}
