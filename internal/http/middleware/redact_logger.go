// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the gateway's access logger. Requests
// on this API routinely carry secrets and identifiers that must not reach
// logs: the X-Admin-Key credential on the issuance surface, usage-token UUIDs
// (bearer credentials until activated) on the activation surface, and user
// e-mail addresses wherever clients stuff them into query strings. The logger
// scrubs all of those before emitting a structured JSON line per request, and
// attaches a request-scoped zerolog.Logger (see LoggerFrom) so handlers log
// with the same correlation fields.
//
// Bodies are never logged; scrubbing applies to query strings and headers.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// maxQueryLogLength caps the number of bytes of the raw query string logged.
const maxQueryLogLength = 2048

// RedactOptions configures extra scrub behavior for RedactingLogger.
//
// MaskHeaders names additional headers whose values are replaced with
// "[REDACTED]" wholesale. Matching is case-insensitive and merged with the
// built-in set (Authorization, Cookie, Set-Cookie, X-Admin-Key).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that writes one structured access
// log per request and attaches the request-scoped logger to the context.
//
// The pre-request logger carries request_id, user, method, path (route
// pattern when matched), and the flow/session route params when present. The
// completion event adds status, latency, byte counts, the scrubbed query
// string, and the scrubbed request headers. Level follows the outcome: error
// for 5xx or when the context collected errors, warn for 4xx, info otherwise.
//
// Scrubbing replaces UUID-shaped values (usage tokens, session IDs) with
// "[REDACTED:token]" and e-mail addresses with "[REDACTED:email]"; masked
// headers are replaced entirely.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	tokenRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		s = tokenRE.ReplaceAllString(s, "[REDACTED:token]")
		return emailRE.ReplaceAllString(s, "[REDACTED:email]")
	}

	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-admin-key":   {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rid, _ := c.Get(requestIDKey)
		requestID := asString(rid)
		if requestID == "" {
			requestID = c.Writer.Header().Get(requestIDHeader)
		}
		if requestID == "" {
			requestID = c.GetHeader(requestIDHeader)
		}

		bld := log.With().
			Str("request_id", requestID).
			Str("user", userIDFromCtx(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if fid := c.Param("id"); fid != "" {
			bld = bld.Str("flow_id", fid)
		}
		if sid := c.Param("sid"); sid != "" {
			bld = bld.Str("session_id", sid)
		}
		l := bld.Logger()
		c.Set(loggerKey, &l)

		c.Next()

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Str("query", truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
