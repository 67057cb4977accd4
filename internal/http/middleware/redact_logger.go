// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger mounted in front of
// the listing dashboard API. Buyer names, emails, and phone numbers routinely
// end up in query strings (lead filters, search boxes) and in custom headers
// forwarded by marketplace webhooks, so everything except the route pattern
// is passed through a scrubber before it reaches the log.
//
// Request and response bodies are never logged.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders names extra headers whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with the built-in set
// (Authorization, Cookie, Set-Cookie, Idempotency-Key).
type RedactOptions struct {
	MaskHeaders []string
}

// scrubRule replaces every match of re with its label.
type scrubRule struct {
	re    *regexp.Regexp
	label string
}

// Order matters: UUIDs first so the loose phone pattern cannot eat the digit
// groups of an identifier.
var scrubRules = []scrubRule{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

var defaultMaskedHeaders = []string{"authorization", "cookie", "set-cookie", "idempotency-key"}

func scrub(s string) string {
	if s == "" {
		return s
	}
	for _, r := range scrubRules {
		s = r.re.ReplaceAllString(s, r.label)
	}
	return s
}

// RedactingLogger attaches the request-scoped logger and logs one line per
// request with the query string and header values scrubbed. Level is INFO,
// WARN for 4xx, ERROR for 5xx. The seller is included when Auth resolved one.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(defaultMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range defaultMaskedHeaders {
		masked[h] = struct{}{}
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		attachLogger(c)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := scrub(c.Request.URL.RawQuery)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c) // carries request_id, trace_id and seller_id

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", scrub(c.Errors.String()))
		}

		ev.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
