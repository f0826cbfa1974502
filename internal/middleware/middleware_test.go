package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subscription-api/internal/metrics"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

type stubAdmins struct {
	admins map[string]bool
	err    error
}

func (s stubAdmins) IsAdmin(_ context.Context, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.admins[userID], nil
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		userID := ""
		if s := CurrentSession(c); s != nil {
			userID = s.UserID
		}
		c.String(http.StatusOK, userID)
	})
	r.GET("/test", handlers...)
	return r
}

func serve(r *gin.Engine, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSession(t *testing.T) {
	sessions := services.NewSessionService(testSecret, "", stubAdmins{})
	r := newRouter(RequireSession(sessions))

	w := serve(r, map[string]string{"Authorization": signToken(t, "user-1")})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	for _, header := range []string{"", "Bearer", "Bearer not-a-token", "Basic dXNlcjpwYXNz"} {
		w := serve(r, map[string]string{"Authorization": header})
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	admins := stubAdmins{admins: map[string]bool{"admin-1": true}}
	sessions := services.NewSessionService(testSecret, "", admins)
	r := newRouter(RequireSession(sessions), RequireAdmin(sessions))

	w := serve(r, map[string]string{"Authorization": signToken(t, "admin-1")})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", w.Body.String())

	w = serve(r, map[string]string{"Authorization": signToken(t, "user-1")})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Forbidden: Admin access required"}`, w.Body.String())

	w = serve(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdminLookupFailure(t *testing.T) {
	sessions := services.NewSessionService(testSecret, "", stubAdmins{err: errors.New("connection refused")})
	r := newRouter(RequireSession(sessions), RequireAdmin(sessions))

	w := serve(r, map[string]string{"Authorization": signToken(t, "admin-1")})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireAdminWithoutSession(t *testing.T) {
	sessions := services.NewSessionService(testSecret, "", stubAdmins{})
	r := newRouter(RequireAdmin(sessions))

	w := serve(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := serve(r, map[string]string{RequestIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = serve(r, nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRequestLoggerRecordsMetrics(t *testing.T) {
	m := metrics.NewCollector("test")
	r := newRouter(RequestID(), RequestLogger(m))

	serve(r, nil)
	serve(r, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/test", http.MethodGet, "200")))
}

func TestIPRateLimiter(t *testing.T) {
	assert.Nil(t, NewIPRateLimiter(0))

	l := NewIPRateLimiter(2)
	require.NotNil(t, l)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimit(NewIPRateLimiter(1)))

	assert.Equal(t, http.StatusOK, serve(r, nil).Code)
	w := serve(r, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, w.Body.String())

	unlimited := newRouter(RateLimit(nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(unlimited, nil).Code)
	}
}
