package api

import (
	"errors"
	"io"
	"net/http"

	"subscription-api/internal/response"

	"github.com/gin-gonic/gin"
)

// AdminSubscriptionRequest identifies the user whose profile follows the change
type AdminSubscriptionRequest struct {
	UserID string `json:"userId"`
}

// BlockUserRequest represents block toggle request
type BlockUserRequest struct {
	Blocked *bool `json:"blocked"`
}

func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// AdminReactivateSubscription clears a scheduled cancellation for a user
// POST /api/admin/subscription/:id/reactivate
func (h *Handler) AdminReactivateSubscription(c *gin.Context) {
	var req AdminSubscriptionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.Subscriptions.AdminReactivate(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, StatusResponse{ID: sub.ID, Status: sub.Status})
}

// AdminCancelSubscription schedules cancellation for a user
// POST /api/admin/subscription/:id/cancel
func (h *Handler) AdminCancelSubscription(c *gin.Context) {
	var req AdminSubscriptionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.Subscriptions.AdminCancel(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, toCancelResponse(sub))
}

// GetDashboard returns dashboard stats and the filtered user table
// GET /api/admin/dashboard?search=&filter=
func (h *Handler) GetDashboard(c *gin.Context) {
	view, err := h.Dashboard.View(c.Request.Context(), c.Query("search"), c.Query("filter"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, view)
}

// SetUserBlocked blocks or unblocks a user
// POST /api/admin/users/:userId/block
func (h *Handler) SetUserBlocked(c *gin.Context) {
	var req BlockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Blocked == nil {
		response.ErrorJSON(c, http.StatusBadRequest, "blocked is required")
		return
	}

	userID := c.Param("userId")
	if err := h.Dashboard.SetBlocked(c.Request.Context(), userID, *req.Blocked); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{
		"user_id":    userID,
		"is_blocked": *req.Blocked,
	})
}
