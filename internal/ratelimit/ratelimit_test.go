package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour}).WithClock(clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	limiter, clock := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		ok, _ := limiter.Allow("test-ip")
		assert.True(t, ok, "request %d should be allowed (within burst)", i)
	}

	ok, wait := limiter.Allow("test-ip")
	assert.False(t, ok, "request after burst should be denied")
	assert.Equal(t, time.Second, wait)

	clock.Advance(time.Second)
	ok, _ = limiter.Allow("test-ip")
	assert.True(t, ok, "request after waiting should be allowed")
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	ok, _ := limiter.Allow("client-a")
	assert.False(t, ok, "client A should be rate limited")

	ok, _ = limiter.Allow("client-b")
	assert.True(t, ok, "client B should not be rate limited")
	assert.Equal(t, 2, limiter.Clients())
}

func TestLimiterBurstCap(t *testing.T) {
	limiter, clock := newTestLimiter(t, 600, 2)

	limiter.Allow("k")
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow("k"); ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed, "idle time refills only up to the burst size")
}

func TestLimiterEvictIdle(t *testing.T) {
	limiter, clock := newTestLimiter(t, 60, 1)
	limiter.Allow("old")
	clock.Advance(3 * time.Minute)
	limiter.Allow("fresh")

	limiter.evictIdle()
	assert.Equal(t, 1, limiter.Clients())
}

func TestLimiterStopTwice(t *testing.T) {
	limiter, _ := newTestLimiter(t, 60, 1)
	limiter.Stop()
	limiter.Stop()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t, 60, 1)

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/test", func(c *gin.Context) { c.String(200, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.RequestsPerMinute)
	assert.Equal(t, 20, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
