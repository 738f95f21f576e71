package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()), RequireUser(), rl.Middleware())
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c).String()) })
	return r
}

func get(r http.Handler, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterPerUser(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := PerSecond(2)
	rl.now = func() time.Time { return clock }
	r := newRouter(rl)
	alice, bob := uuid.NewString(), uuid.NewString()

	assert.Equal(t, http.StatusOK, get(r, alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, alice).Code)
	assert.Equal(t, http.StatusOK, get(r, bob).Code, "limits are per user")

	clock = clock.Add(500 * time.Millisecond)
	assert.Equal(t, http.StatusOK, get(r, alice).Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	r := newRouter(PerSecond(0))
	user := uuid.NewString()
	for range 5 {
		assert.Equal(t, http.StatusOK, get(r, user).Code)
	}
}

func TestRequireUser(t *testing.T) {
	r := newRouter(PerSecond(0))

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "not-a-uuid").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, uuid.Nil.String()).Code)

	user := uuid.New()
	w := get(r, user.String())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.String(), w.Body.String())
}
