package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the body of every failed API response
type ErrorBody struct {
	Error string `json:"error"`
}

// Error returns an error response body
func Error(message string) ErrorBody {
	return ErrorBody{Error: message}
}

// JSON sends a JSON response
func JSON(c *gin.Context, statusCode int, body any) {
	c.JSON(statusCode, body)
}

// SuccessJSON sends a 200 JSON response
func SuccessJSON(c *gin.Context, data any) {
	JSON(c, http.StatusOK, data)
}

// ErrorJSON sends an error JSON response
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	JSON(c, statusCode, Error(message))
}

// AbortWithError sends an error JSON response and stops the handler chain
func AbortWithError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, Error(message))
}
