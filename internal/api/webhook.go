package api

import (
	"net/http"

	"subscription-api/internal/response"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps the size of a provider webhook payload
const maxWebhookBody = 1 << 20

// StripeWebhook receives provider subscription events
// POST /api/stripe/webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
		return
	}

	result, err := h.Webhooks.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{
		"received": true,
		"result":   result,
	})
}
