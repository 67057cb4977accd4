// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides correlation IDs, the request-scoped logger, and panic
// recovery:
//
//   - RequestID() reuses a well-formed inbound X-Request-ID or mints a UUID,
//     echoes it on the response, and stores it in the Gin context.
//   - attachLogger() builds a zerolog.Logger carrying request_id and, when the
//     request is traced, trace_id. It is stored under the "logger" Gin key and
//     on the request context so services can use log.Ctx(ctx). Auth adds
//     seller_id once a token is verified.
//   - Recovery() converts panics into the JSON error envelope and logs the
//     stack through the request logger.
//   - LoggerFrom() returns the request logger, or a global fallback.
//
// Order: RequestID → RedactingLogger (attaches the logger) → Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key of the request-scoped logger.
	loggerKey = "logger"
	// maxRequestIDLen bounds client-supplied correlation IDs.
	maxRequestIDLen = 128
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID attaches (or propagates) a correlation identifier per request.
// Inbound IDs that are too long or contain characters outside
// [A-Za-z0-9._:-] are replaced, so they are safe to echo and log.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	return s != "" && len(s) <= maxRequestIDLen && requestIDPattern.MatchString(s)
}

// attachLogger installs the request-scoped logger and returns it.
func attachLogger(c *gin.Context) *zerolog.Logger {
	rid, _ := c.Get(requestIDKey)
	lc := log.With().Str("request_id", asString(rid))
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}
	l := lc.Logger()
	setLogger(c, &l)
	return &l
}

// withSeller adds the authenticated seller to the request logger.
func withSeller(c *gin.Context, seller string) {
	l := LoggerFrom(c).With().Str("seller_id", seller).Logger()
	setLogger(c, &l)
}

func setLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500:
//
//	{ "error": "internal server error", "code": "internal_error", "request_id": "..." }
//
// When the handler already wrote a response only the status is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", IdempotencyScope(c)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					if rid, ok := c.Get(requestIDKey); ok {
						c.Header(requestIDHeader, asString(rid))
					}
					abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or a logger derived
// from the global one when none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
