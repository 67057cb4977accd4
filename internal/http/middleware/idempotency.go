// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on unsafe requests. When a
// lookup finds the key already used, the request is let past the rate
// limiter without charging the bucket; handlers answer with the stored
// resource. The middleware never writes a cached payload itself.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's deduplication key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks a create response that returned the stored
// result of an earlier request with the same Idempotency-Key.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key IdempotencyValidator accepted, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	MaxLen        int            // <= 0 means 200
	Pattern       *regexp.Regexp // nil means letters, digits and ._~-:
	DefaultSeller string         // lookup seller when the request names none
	Now           func() time.Time
}

// IdempotencyLookup reports whether an unexpired result is stored for
// (sellerID, scope, key). Scope is the matched route, e.g. "/api/leads", so
// one key may be reused across endpoints. TTL is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, sellerID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator checks Idempotency-Key on POST, PUT, PATCH and DELETE.
// A missing header passes through; a malformed one is rejected with 400
// bad_idempotency_key. With a lookup, a hit exempts the request from rate
// limiting. Lookup errors are logged and the request proceeds as new.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			seller := sellerHint(c, opts.DefaultSeller)
			scope := IdempotencyScope(c)
			exists, err := lookup(c.Request.Context(), seller, scope, key, now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
			case exists:
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IdempotencyScope is the route a key is bound to: the registered Gin path,
// or the raw URL path when no route matched.
func IdempotencyScope(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// sellerHint picks the seller for replay detection: the authenticated seller,
// then the sellerId query parameter, then the X-Seller-ID header, then def.
func sellerHint(c *gin.Context, def string) string {
	if s, ok := SellerFrom(c); ok {
		return s
	}
	if q := strings.TrimSpace(c.Query("sellerId")); q != "" {
		return q
	}
	if h := strings.TrimSpace(c.GetHeader("X-Seller-ID")); h != "" {
		return h
	}
	return def
}
