package middleware

import (
	"errors"
	"net/http"

	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// RequireSession verifies the bearer token and stores the session in context
func RequireSession(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessions.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			logging.Debugf("Session rejected - path: %s, error: %v", c.Request.URL.Path, err)
			response.AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		c.Set(sessionKey, session)
		c.Set("user_id", session.UserID)
		c.Next()
	}
}

// RequireAdmin rejects sessions whose user is not in the admin registry.
// It must run after RequireSession.
func RequireAdmin(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := CurrentSession(c)
		if session == nil {
			response.AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if err := sessions.RequireAdmin(c.Request.Context(), session.UserID); err != nil {
			if errors.Is(err, services.ErrForbidden) {
				logging.Warnf("Admin access denied - user: %s, path: %s", session.UserID, c.Request.URL.Path)
				response.AbortWithError(c, http.StatusForbidden, "Forbidden: Admin access required")
				return
			}
			logging.Errorf("Admin check failed - user: %s, error: %v", session.UserID, err)
			response.AbortWithError(c, http.StatusInternalServerError, "Failed to check admin access")
			return
		}
		c.Next()
	}
}

// CurrentSession returns the verified session, or nil
func CurrentSession(c *gin.Context) *services.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*services.Session)
	return session
}
