package ratelimiter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyr0th/aptos-stables/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter(cfg Config) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(cfg, WithClock(clock.Now)), clock
}

func TestRateLimiter_BurstLimit(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 15, Window: time.Minute,
		BurstLimit: 3, BurstWindow: 10 * time.Second,
	})

	for i := 0; i < 3; i++ {
		d := rl.Check("1.2.3.4")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.BurstRemaining)
	}

	d := rl.Check("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBurst, d.Reason)
	assert.Equal(t, 10*time.Second, d.RetryAfter)
	assert.Equal(t, 12, d.Remaining, "long window still has capacity")

	clock.Advance(4 * time.Second)
	d = rl.Check("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 6*time.Second, d.RetryAfter)

	clock.Advance(6 * time.Second)
	d = rl.Check("1.2.3.4")
	assert.True(t, d.Allowed, "burst window slid past the first requests")
}

func TestRateLimiter_SlidingBurstWindow(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 100, Window: time.Minute,
		BurstLimit: 2, BurstWindow: 10 * time.Second,
	})

	require.True(t, rl.Check("c").Allowed) // t=0
	clock.Advance(6 * time.Second)
	require.True(t, rl.Check("c").Allowed) // t=6
	clock.Advance(3 * time.Second)
	assert.False(t, rl.Check("c").Allowed) // t=9, two in window
	clock.Advance(time.Second)
	assert.False(t, rl.Check("c").Allowed, "the rejected request at t=9 still occupies the window")
	clock.Advance(10 * time.Second)
	assert.True(t, rl.Check("c").Allowed) // t=20, t=9 and t=10 left the window
	assert.True(t, rl.Check("c").Allowed)
	assert.False(t, rl.Check("c").Allowed)
}

func TestRateLimiter_WindowLimit(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 8, Window: time.Minute,
		BurstLimit: 5, BurstWindow: 10 * time.Second,
	})

	for i := 0; i < 5; i++ {
		require.True(t, rl.Check("c").Allowed)
	}
	clock.Advance(11 * time.Second)
	for i := 0; i < 3; i++ {
		require.True(t, rl.Check("c").Allowed)
	}

	d := rl.Check("c")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWindow, d.Reason)
	assert.Equal(t, 49*time.Second, d.RetryAfter)
	assert.Equal(t, 0, d.Remaining)

	clock.Advance(49 * time.Second)
	d = rl.Check("c")
	assert.True(t, d.Allowed, "fresh record once the long window elapsed")
	assert.Equal(t, 7, d.Remaining)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(Config{
		WindowLimit: 1, Window: time.Minute,
		BurstLimit: 1, BurstWindow: 10 * time.Second,
	})

	assert.True(t, rl.Check("a").Allowed)
	assert.False(t, rl.Check("a").Allowed)
	assert.True(t, rl.Check("b").Allowed)
	assert.Equal(t, 2, rl.Size())
}

func TestRateLimiter_RetryingClientStaysBlocked(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 100, Window: time.Minute,
		BurstLimit: 3, BurstWindow: 10 * time.Second,
	})

	for i := 0; i < 3; i++ {
		require.True(t, rl.Check("c").Allowed)
	}
	for i := 1; i <= 9; i++ {
		clock.Advance(time.Second)
		d := rl.Check("c")
		require.False(t, d.Allowed, "retry at t=%d", i)
		assert.Equal(t, ReasonBurst, d.Reason)
	}

	clock.Advance(1500 * time.Millisecond) // t=10.5
	d := rl.Check("c")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBurst, d.Reason)
	assert.Equal(t, 7500*time.Millisecond, d.RetryAfter) // the t=8 retry leaves first
	assert.Equal(t, 97, d.Remaining, "burst rejections leave the long window alone")

	clock.Advance(10 * time.Second)
	assert.True(t, rl.Check("c").Allowed, "a quiet burst window admits again")
}

func TestRateLimiter_WindowRejectionsAreCounted(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 2, Window: time.Minute,
		BurstLimit: 100, BurstWindow: 10 * time.Second,
	})

	require.True(t, rl.Check("c").Allowed)
	require.True(t, rl.Check("c").Allowed)
	for i := 0; i < 4; i++ {
		d := rl.Check("c")
		require.False(t, d.Allowed)
		assert.Equal(t, ReasonWindow, d.Reason)
	}

	// count is 6; one idle decay halves it to 3, still over the limit
	clock.Advance(31 * time.Second)
	_, decayed := rl.Sweep()
	assert.Equal(t, 1, decayed)
	assert.False(t, rl.Check("c").Allowed)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, clock := newTestLimiter(Config{
		WindowLimit: 15, Window: time.Minute,
		BurstLimit: 10, BurstWindow: 10 * time.Second,
		IdleDecayAfter: 30 * time.Second,
	})

	for i := 0; i < 6; i++ {
		rl.Check("idle")
	}
	clock.Advance(20 * time.Second)
	rl.Check("active")

	clock.Advance(11 * time.Second)
	removed, decayed := rl.Sweep()
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, decayed)
	assert.Equal(t, 12, rl.Peek("idle").Remaining, "count decayed from 6 to 3")
	assert.Equal(t, 14, rl.Peek("active").Remaining)

	clock.Advance(50 * time.Second)
	removed, _ = rl.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, rl.Size())
}

func TestRateLimiter_PeekDoesNotConsume(t *testing.T) {
	rl, _ := newTestLimiter(Config{
		WindowLimit: 2, Window: time.Minute,
		BurstLimit: 2, BurstWindow: 10 * time.Second,
	})

	for i := 0; i < 5; i++ {
		d := rl.Peek("c")
		assert.Equal(t, 2, d.Remaining)
	}
	assert.True(t, rl.Check("c").Allowed)
	assert.Equal(t, 1, rl.Peek("c").Remaining)
}

func TestClientIdentifier(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "9.9.9.9"},
		{"real ip fallback", map[string]string{"X-Real-IP": "8.8.8.8"}, "8.8.8.8"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "7.7.7.7", "X-Real-IP": "8.8.8.8"}, "7.7.7.7"},
		{"unknown", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIdentifier(c))
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl, _ := newTestLimiter(Config{
		WindowLimit: 2, Window: time.Minute,
		BurstLimit: 5, BurstWindow: 10 * time.Second,
	})

	engine := gin.New()
	engine.GET("/limited", rl.Middleware(nil), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.Header.Set("X-Forwarded-For", "5.5.5.5")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	w := do()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Burst-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	assert.Equal(t, http.StatusOK, do().Code)

	w = do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 60, retryAfter)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, body.Error)
	assert.Contains(t, body.Message, "try again in 60 seconds")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, 10, RetryAfterSeconds(10*time.Second))
}
