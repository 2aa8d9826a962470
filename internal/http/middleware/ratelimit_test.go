package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP_ResolutionOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tokens/activate", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	// Anonymous traffic keys by client IP.
	key := KeyByUserOrIP()(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key; got %q", key)
	}

	// A header-identified user gets a user bucket, same as the handlers
	// would resolve the identity.
	req.Header.Set("X-User-ID", " alice ")
	if got := KeyByUserOrIP()(c); got != "user:alice" {
		t.Fatalf("expected header-based user key; got %q", got)
	}

	// The authenticated context identity outranks the header.
	c.Set("userID", "bob")
	if got := KeyByUserOrIP()(c); got != "user:bob" {
		t.Fatalf("expected context-based user key; got %q", got)
	}
}

func TestNewRateLimiter_BurstCoercion_AndVisitorReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByUserOrIP()) // burst<=0 coerced to 1
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}

	lim := rl.getVisitor("user:alice")
	if lim == nil {
		t.Fatalf("expected limiter")
	}
	if got := rl.getVisitor("user:alice"); got != lim {
		t.Fatalf("same identity must reuse its bucket")
	}
	if got := rl.getVisitor("user:bob"); got == lim {
		t.Fatalf("distinct identities must not share a bucket")
	}
}

func TestRateLimiter_IdleBucketEviction(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	rl.ttl = 1 * time.Nanosecond

	rl.mu.Lock()
	rl.visitors["user:stale"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	rl.cleanupN = cleanupEvery - 1 // next lookup triggers the sweep
	rl.mu.Unlock()

	_ = rl.getVisitor("user:fresh")

	rl.mu.Lock()
	_, staleExists := rl.visitors["user:stale"]
	_, freshExists := rl.visitors["user:fresh"]
	rl.mu.Unlock()

	if staleExists {
		t.Fatalf("idle bucket must be evicted by the sweep")
	}
	if !freshExists {
		t.Fatalf("looked-up bucket must be created")
	}
}

func TestRateLimiter_PerUserBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// burst 1: each identity gets one immediate request.
	rl := NewRateLimiter(0.001, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/flows/:id/sessions/:sid/messages", func(c *gin.Context) { c.Status(http.StatusCreated) })

	turn := func(user string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/flows/visa/sessions/s1/messages", nil)
		req.Header.Set("X-User-ID", user)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := turn("alice"); code != http.StatusCreated {
		t.Fatalf("alice's first turn should pass, got %d", code)
	}
	if code := turn("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice's burst is spent, expected 429, got %d", code)
	}
	// A different user is not throttled by alice's bucket.
	if code := turn("bob"); code != http.StatusCreated {
		t.Fatalf("bob must have his own bucket, got %d", code)
	}
}

func TestRateLimiter_DenyBodyAndRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(0.001, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.POST("/tokens/activate", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/tokens/activate", nil)
		req.Header.Set("X-User-ID", "carol")
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request should be allowed, got %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected deny body: %v", body)
	}
}

func TestRateLimiter_ReplayBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Burst 1, and the bucket is pre-spent; only replays get through.
	rl := NewRateLimiter(0.001, 1, KeyByUserOrIP())
	replayLookup := func(_ context.Context, _, _, _, _ string, _ time.Time) (bool, error) {
		return true, nil
	}

	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, replayLookup))
	r.Use(rl.Handler())
	r.POST("/flows/:id/sessions/:sid/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(idemKey string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/flows/visa/sessions/s1/messages", nil)
		req.Header.Set("X-User-ID", "dave")
		if idemKey != "" {
			req.Header.Set(HeaderIdempotencyKey, idemKey)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(""); code != http.StatusOK {
		t.Fatalf("first turn should pass, got %d", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Fatalf("bucket spent, expected 429, got %d", code)
	}
	// A recorded replay is served without drawing a token.
	if code := send("turn-1"); code != http.StatusOK {
		t.Fatalf("replay must bypass the limiter, got %d", code)
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=true when set")
	}
	c.Set(ctxKeyRateBypass, "yes") // non-bool reads as false
	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false for non-bool value")
	}
}
