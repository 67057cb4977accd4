// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, the hardening layer for the dashboard's
// JSON API. Besides the usual nosniff/frame/referrer headers it exposes the
// response headers the dashboard front end reads (request id, ETag, replay
// marker) so browser clients behind CORS can see them.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// HSTS is only emitted for HTTPS requests (direct TLS or X-Forwarded-Proto).
// HSTSMaxAge defaults to 180 days. NoStore adds Cache-Control: no-store with
// the legacy Pragma/Expires pair.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool // Permissions-Policy, X-Permitted-Cross-Domain-Policies
}

// ExposedHeaders are always listed in Access-Control-Expose-Headers. Handlers
// write their bodies before control returns here, so exposure cannot depend on
// which headers a response ended up with.
var ExposedHeaders = []string{
	requestIDHeader, "ETag", HeaderIdempotencyReplayed,
	HeaderRateLimitLimit, HeaderRateLimitRemaining, headerRetryAfter,
}

// SecurityHeaders returns a middleware adding conservative security headers.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int64(opt.HSTSMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int64((180 * 24 * time.Hour) / time.Second)
	}
	hsts := "max-age=" + strconv.FormatInt(maxAge, 10) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		expose(h)
		c.Next()
	}
}

// expose appends ExposedHeaders to Access-Control-Expose-Headers without
// duplicating names already listed.
func expose(h http.Header) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	for _, name := range ExposedHeaders {
		if containsToken(cur, name) {
			continue
		}
		if cur == "" {
			cur = name
		} else {
			cur += ", " + name
		}
	}
	if cur != "" {
		h.Set(hdr, cur)
	}
}

func containsToken(list, name string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return true
		}
	}
	return false
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy. With chained proxies only the client-facing (first) hop counts.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
