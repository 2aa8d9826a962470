package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecured(t *testing.T, opt SecurityOptions, mutate func(*http.Request), pre gin.HandlerFunc) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/me/entitlement", func(c *gin.Context) { c.String(http.StatusOK, "{}") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me/entitlement", nil)
	if mutate != nil {
		mutate(req)
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecured(t, SecurityOptions{}, nil, nil)

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	// Nothing optional without opting in.
	if h.Get("Permissions-Policy") != "" || h.Get("X-Permitted-Cross-Domain-Policies") != "" {
		t.Fatalf("unexpected policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "" || h.Get("Pragma") != "" || h.Get("Expires") != "" {
		t.Fatalf("unexpected cache headers: %#v", h)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must be opt-in: %#v", h)
	}
}

func TestSecurityHeaders_NoStoreAndPolicy(t *testing.T) {
	h := serveSecured(t, SecurityOptions{NoStore: true, EnablePolicy: true}, nil, nil)

	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("transcript responses must be uncacheable: %#v", h)
	}
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %#v", h)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	// Plain HTTP never gets HSTS, even when enabled.
	h := serveSecured(t, SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, nil, nil)
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS on plain HTTP: %#v", h)
	}

	// Terminated TLS.
	h = serveSecured(t, SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour},
		func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, nil)
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS value = %q", got)
	}

	// Proxy-terminated TLS via X-Forwarded-Proto.
	h = serveSecured(t, SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour},
		func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") }, nil)
	if !strings.HasPrefix(h.Get("Strict-Transport-Security"), "max-age=3600") {
		t.Fatalf("HSTS via proxy header = %q", h.Get("Strict-Transport-Security"))
	}

	// Max age <= 0 falls back to 180 days.
	h = serveSecured(t, SecurityOptions{EnableHSTS: true},
		func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, nil)
	if !strings.HasPrefix(h.Get("Strict-Transport-Security"), "max-age=15552000") {
		t.Fatalf("HSTS default max-age = %q", h.Get("Strict-Transport-Security"))
	}
}

func TestSecurityHeaders_ExposeRequestID(t *testing.T) {
	setRID := func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() }

	// Fresh expose header.
	h := serveSecured(t, SecurityOptions{}, nil, setRID)
	if h.Get("Access-Control-Expose-Headers") != "X-Request-ID" {
		t.Fatalf("expose header = %q", h.Get("Access-Control-Expose-Headers"))
	}

	// Appended without clobbering.
	h = serveSecured(t, SecurityOptions{}, nil, func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-2")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Next()
	})
	if h.Get("Access-Control-Expose-Headers") != "Content-Length, X-Request-ID" {
		t.Fatalf("expose header append = %q", h.Get("Access-Control-Expose-Headers"))
	}

	// Never duplicated.
	h = serveSecured(t, SecurityOptions{}, nil, func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-3")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, Content-Length")
		c.Next()
	})
	if h.Get("Access-Control-Expose-Headers") != "X-Request-ID, Content-Length" {
		t.Fatalf("expose header must stay unchanged, got %q", h.Get("Access-Control-Expose-Headers"))
	}
}

func Test_isHTTPS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(req) {
		t.Fatalf("plain HTTP reported as https")
	}
	req.TLS = &tls.ConnectionState{}
	if !isHTTPS(req) {
		t.Fatalf("TLS request not reported as https")
	}
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(req2) {
		t.Fatalf("X-Forwarded-Proto https not reported as https")
	}
}
