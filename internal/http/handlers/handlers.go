// Handler wiring for the listing dashboard API.
//
// Handlers are transport-thin: they resolve the acting seller, validate
// input, call application services, and translate results into HTTP
// responses (including conditional responses and idempotent replays).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/http/middleware"
	"github.com/tbourn/go-listing-dashboard/internal/matcher"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
)

//
// Service contracts (context-aware)
//

// RuleService defines the rule operations consumed by HTTP handlers.
type RuleService interface {
	// EnsureDefaults seeds the template rules for a seller seen for the first time.
	EnsureDefaults(ctx context.Context, sellerID string) (int, error)
	List(ctx context.Context, sellerID string) ([]domain.AutoResponseRule, error)
	Get(ctx context.Context, sellerID, id string) (*domain.AutoResponseRule, error)
	Create(ctx context.Context, in services.CreateRuleInput) (*domain.AutoResponseRule, error)
	Update(ctx context.Context, sellerID, id string, patch domain.RulePatch) (*domain.AutoResponseRule, error)
	Delete(ctx context.Context, sellerID, id string) error
	// Evaluate is a dry run of the matcher; nothing is recorded.
	Evaluate(ctx context.Context, sellerID string, in matcher.Inquiry, humanReplied bool) (matcher.Decision, error)
}

// LeadService defines lead and inquiry operations consumed by HTTP handlers.
type LeadService interface {
	Create(ctx context.Context, in services.CreateLeadInput) (*domain.Lead, error)
	Get(ctx context.Context, sellerID, id string) (*domain.Lead, error)
	ListPage(ctx context.Context, sellerID, status string, page, pageSize int) ([]domain.Lead, int64, error)
	Update(ctx context.Context, sellerID, id string, patch domain.LeadPatch) (*domain.Lead, error)
	Delete(ctx context.Context, sellerID, id string) error
	History(ctx context.Context, sellerID, leadID string) ([]domain.ResponseEvent, error)
	Preview(ctx context.Context, sellerID, leadID, text string) (*services.InquiryResult, error)
	Inquiry(ctx context.Context, sellerID, leadID, text string, receivedAt time.Time) (*services.InquiryResult, error)
}

// DashboardService provides the seller summary.
type DashboardService interface {
	Stats(ctx context.Context, sellerID string) (*services.DashboardStats, error)
}

//
// Handler wiring
//

// Options tunes handler behavior.
type Options struct {
	// DefaultSeller is used when a request names no seller.
	DefaultSeller string
	// IdempotencyTTL is how long a replayable create result is kept.
	IdempotencyTTL time.Duration
}

// Handlers groups HTTP endpoints for rules, leads, and the dashboard.
type Handlers struct {
	rules RuleService
	leads LeadService
	dash  DashboardService

	defaultSeller  string
	idempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(rules RuleService, leads LeadService, dash DashboardService, opts Options) *Handlers {
	if opts.DefaultSeller == "" {
		opts.DefaultSeller = "demo-seller"
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{
		rules:          rules,
		leads:          leads,
		dash:           dash,
		defaultSeller:  opts.DefaultSeller,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

// sellerID resolves the acting seller: the authenticated seller, then the
// sellerId query parameter, then fromBody, then the X-Seller-ID header, then
// the configured default.
func (h *Handlers) sellerID(c *gin.Context, fromBody string) string {
	if s, ok := middleware.SellerFrom(c); ok {
		return s
	}
	if q := strings.TrimSpace(c.Query("sellerId")); q != "" {
		return q
	}
	if b := strings.TrimSpace(fromBody); b != "" {
		return b
	}
	if hdr := strings.TrimSpace(c.GetHeader("X-Seller-ID")); hdr != "" {
		return hdr
	}
	return h.defaultSeller
}

// ownerScope is the seller that must own resources addressed by id. Without
// authentication ownership is not enforced, so it is empty.
func ownerScope(c *gin.Context) string {
	s, _ := middleware.SellerFrom(c)
	return s
}

// ruleDB exposes the store behind the concrete rule service for ETags and
// idempotency records; nil for other implementations.
func (h *Handlers) ruleDB() *gorm.DB {
	if svc, ok := h.rules.(*services.RuleService); ok {
		return svc.DB
	}
	return nil
}

// leadDB is ruleDB for the lead service.
func (h *Handlers) leadDB() *gorm.DB {
	if svc, ok := h.leads.(*services.LeadService); ok {
		return svc.DB
	}
	return nil
}

// weakETag builds a validator from a collection's size and newest update.
func weakETag(kind, scope string, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
}

// notModified sets the ETag header and reports whether If-None-Match names it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// replay returns the stored result of an earlier create with the same
// Idempotency-Key on this route, if any. The seller here may come from the
// body, which the middleware cannot see, so the store is always consulted.
func (h *Handlers) replay(c *gin.Context, db *gorm.DB, seller string) (*domain.Idempotency, bool) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok || db == nil {
		return nil, false
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), db, seller, middleware.IdempotencyScope(c), key, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false
	}
	return rec, true
}

// remember records a completed create for later replays. Failures only log:
// the resource already exists and the client gets its response either way.
func (h *Handlers) remember(c *gin.Context, db *gorm.DB, seller, resourceID string, status int) {
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok || db == nil {
		return
	}
	_, err := repo.CreateIdempotency(c.Request.Context(), db, seller, middleware.IdempotencyScope(c), key, resourceID, status, h.idempotencyTTL)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record failed")
	}
}

// markReplayed flags a response as the replay of an earlier request.
func markReplayed(c *gin.Context) {
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
}

// bindOptionalJSON binds a JSON body when one is present. An empty body is
// not an error.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// bindError answers a body that could not be bound. Missing bodies, wrong
// field types and oversized bodies are client errors. Any other decode
// failure, malformed JSON included, is unexpected: logged, then 500 with the
// generic message.
func bindError(c *gin.Context, err error) {
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "request body is required")
	case errors.As(err, &typeErr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("field %q has the wrong type", typeErr.Field))
	case errors.Is(err, domain.ErrTriggersFormat):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		failInternal(c, err)
	}
}
