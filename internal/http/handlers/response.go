// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response shapes shared by every endpoint. Successful
// calls return an Envelope; failures return an ErrorResponse with a stable
// machine-readable code.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "error": "rule not found",
//	  "code": "not_found",
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// Example success response:
//
//	HTTP/1.1 201 Created
//	{
//	  "success": true,
//	  "data": { "id": "…", "name": "Availability" },
//	  "message": "rule created",
//	  "timestamp": "2026-01-02T15:04:05Z"
//	}
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-listing-dashboard/internal/http/middleware"
	"github.com/tbourn/go-listing-dashboard/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Human-readable message (safe to show to users)
	Error string `json:"error" example:"rule not found"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// Envelope wraps every successful response.
type Envelope struct {
	Success   bool      `json:"success" example:"true"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty" example:"rule updated"`
	Timestamp time.Time `json:"timestamp"`
}

// internalMessage is the only text a 5xx body ever carries.
const internalMessage = "internal server error"

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("error", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}

// Fail is the exported variant of fail().
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failInternal logs err with request context and answers 500 with a generic
// message, so storage details never reach the client.
func failInternal(c *gin.Context, err error) {
	middleware.LoggerFrom(c).Error().
		Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("unexpected error")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:     internalMessage,
		Code:      ErrCodeInternal,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}

// failService translates a service error into a response.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRuleNotFound), errors.Is(err, services.ErrLeadNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidRule),
		errors.Is(err, services.ErrInvalidLead),
		errors.Is(err, services.ErrEmptyInquiry):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrDuplicateRule):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		failInternal(c, err)
	}
}

// ok writes a success envelope around data.
func ok(c *gin.Context, status int, data any) {
	okMsg(c, status, data, "")
}

// okMsg writes a success envelope with a short human-readable message.
func okMsg(c *gin.Context, status int, data any, msg string) {
	c.JSON(status, Envelope{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}
