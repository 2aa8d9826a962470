package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedactingLogger_ScrubsTokensAndEmails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/flows/:id/sessions/:sid/messages", func(c *gin.Context) {
		c.String(http.StatusOK, "[]")
	})

	// A usage-token UUID and an e-mail address smuggled into the query
	// string must both be scrubbed; paging values survive.
	q := "token=123e4567-e89b-12d3-a456-426614174000&contact=traveler@example.com&page=2"
	req := httptest.NewRequest(http.MethodGet, "/flows/visa/sessions/s1/messages?"+q, nil)
	req.Header.Set("X-User-ID", "alice")
	// Header carrying a token UUID gets pattern-scrubbed, not fully masked.
	req.Header.Set("X-Debug-Token", "123e4567-e89b-12d3-a456-426614174000")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) {
		t.Fatalf("expected info log: %s", logs)
	}
	if !strings.Contains(logs, `"path":"/flows/:id/sessions/:sid/messages"`) {
		t.Fatalf("expected route pattern path: %s", logs)
	}
	if !strings.Contains(logs, `"user":"alice"`) || !strings.Contains(logs, `"flow_id":"visa"`) || !strings.Contains(logs, `"session_id":"s1"`) {
		t.Fatalf("expected identity and route fields: %s", logs)
	}
	if strings.Contains(logs, "123e4567-e89b-12d3-a456-426614174000") {
		t.Fatalf("token UUID leaked into logs: %s", logs)
	}
	if strings.Contains(logs, "traveler@example.com") {
		t.Fatalf("e-mail leaked into logs: %s", logs)
	}
	if !strings.Contains(logs, "[REDACTED:token]") || !strings.Contains(logs, "[REDACTED:email]") {
		t.Fatalf("expected scrub markers: %s", logs)
	}
	if !strings.Contains(logs, "page=2") {
		t.Fatalf("paging values must survive scrubbing: %s", logs)
	}
}

func TestRedactingLogger_MasksCredentialHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	// One extra masked header on top of the built-ins.
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Upstream-Key"}}))
	r.POST("/admin/tokens", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/admin/tokens", nil)
	req.Header.Set("X-Admin-Key", "mint-credential")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Upstream-Key", "shhh")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	logs := buf.String()
	// The admin credential is masked without any router opt-in.
	for _, hdr := range []string{"X-Admin-Key", "Authorization", "Cookie", "X-Upstream-Key"} {
		if !strings.Contains(logs, `"`+hdr+`":"[REDACTED]"`) {
			t.Fatalf("%s must be masked: %s", hdr, logs)
		}
	}
	for _, secret := range []string{"mint-credential", "Bearer secret", "topsecret", "shhh"} {
		if strings.Contains(logs, secret) {
			t.Fatalf("credential %q leaked: %s", secret, logs)
		}
	}
}

func TestRedactingLogger_LevelsAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	// Without RequestID() the logger falls back to the request header.
	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	reqWarn := httptest.NewRequest(http.MethodGet, "/missing", nil)
	reqWarn.Header.Set("X-Request-ID", "rid-warn")
	r.ServeHTTP(httptest.NewRecorder(), reqWarn)

	reqErr := httptest.NewRequest(http.MethodGet, "/broken", nil)
	reqErr.Header.Set("X-Request-ID", "rid-err")
	r.ServeHTTP(httptest.NewRecorder(), reqErr)

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-warn"`) {
		t.Fatalf("4xx must log at warn with the header request id: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-err"`) {
		t.Fatalf("5xx must log at error with the header request id: %s", logs)
	}
}

func TestRedactingLogger_GinErrorsForceErrorLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/oops", func(c *gin.Context) {
		_ = c.Error(errSentinel{})
		c.Status(http.StatusBadRequest)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oops", nil))

	logs := buf.String()
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, "boom") {
		t.Fatalf("collected gin errors must force error level: %s", logs)
	}
}

type errSentinel struct{}

func (e errSentinel) Error() string { return "boom" }
