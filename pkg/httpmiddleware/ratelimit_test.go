package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLimiter(cfg RateLimitConfig) (*limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg)
	l.now = c.now
	return l, c
}

func do(h http.Handler, remote, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	h := l.middleware(okHandler())

	for i := range 5 {
		w := do(h, "192.168.1.1:12345", "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	h := l.middleware(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, do(h, "10.0.0.1:9999", "").Code)
	}
	w := do(h, "10.0.0.1:9999", "")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, map[string]string{"error": "rate_limited", "message": "rate limit exceeded"}, body)
}

func TestRateLimit_KeyedByAPIKey(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	h := l.middleware(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "alpha").Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "beta").Code, "same address, other key")
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code, "anonymous bucket is separate")
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.2:1", "alpha").Code, "key follows the caller")
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	l, c := testLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	h := l.middleware(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:1", "").Code)

	// A quarter into the next window three quarters of the previous count
	// still apply: 4*0.75 = 3, so one request fits.
	c.advance(time.Minute + 15*time.Second)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.1:1", "").Code)

	// Two windows later nothing carries over.
	c.advance(2 * time.Minute)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(RateLimitConfig{})(okHandler())
	for range 10 {
		w := do(h, "10.0.0.1:1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Evict(t *testing.T) {
	l, c := testLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	_, _, _ = l.take("a")
	c.advance(time.Minute)
	_, _, _ = l.take("b")

	l.evict()
	assert.Len(t, l.buckets, 2, "previous window still counts")

	c.advance(time.Minute)
	l.evict()
	assert.Len(t, l.buckets, 1)
	assert.Contains(t, l.buckets, "b")
}

func TestRateLimitWithCleanup_Stops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := RateLimitWithCleanup(ctx, RateLimitConfig{Max: 1, Window: time.Millisecond})(okHandler())
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", "").Code)
	cancel()
}

func TestClientKey(t *testing.T) {
	for _, tt := range []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{name: "api key", header: map[string]string{HeaderAPIKey: "k"}, remote: "1.1.1.1:1", want: "key:k"},
		{name: "forwarded", header: map[string]string{"X-Forwarded-For": "2.2.2.2, 3.3.3.3"}, remote: "1.1.1.1:1", want: "ip:2.2.2.2"},
		{name: "real ip", header: map[string]string{"X-Real-IP": "4.4.4.4"}, remote: "1.1.1.1:1", want: "ip:4.4.4.4"},
		{name: "remote", remote: "5.5.5.5:80", want: "ip:5.5.5.5"},
		{name: "remote without port", remote: "6.6.6.6", want: "ip:6.6.6.6"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(req))
		})
	}
}
