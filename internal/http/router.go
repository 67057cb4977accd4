// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/docs"
	"github.com/tbourn/go-listing-dashboard/internal/config"
	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/http/handlers"
	"github.com/tbourn/go-listing-dashboard/internal/http/middleware"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

// RuleRepoShim adapts the repository free functions to the services.RuleRepo
// interface expected by the RuleService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type RuleRepoShim struct{}

// CreateRule proxies repo.CreateRule.
func (RuleRepoShim) CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoResponseRule) error {
	return repo.CreateRule(ctx, db, r)
}

// GetRule proxies repo.GetRule.
func (RuleRepoShim) GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AutoResponseRule, error) {
	return repo.GetRule(ctx, db, id)
}

// ListRules proxies repo.ListRules.
func (RuleRepoShim) ListRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListRules(ctx, db, sellerID)
}

// ListActiveRules proxies repo.ListActiveRules.
func (RuleRepoShim) ListActiveRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListActiveRules(ctx, db, sellerID)
}

// CountRules proxies repo.CountRules.
func (RuleRepoShim) CountRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error) {
	return repo.CountRules(ctx, db, sellerID)
}

// UpdateRule proxies repo.UpdateRule.
func (RuleRepoShim) UpdateRule(ctx context.Context, db *gorm.DB, id string, patch domain.RulePatch, now time.Time) (*domain.AutoResponseRule, error) {
	return repo.UpdateRule(ctx, db, id, patch, now)
}

// DeleteRule proxies repo.DeleteRule.
func (RuleRepoShim) DeleteRule(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteRule(ctx, db, id)
}

// HasRuleSeed proxies repo.HasRuleSeed.
func (RuleRepoShim) HasRuleSeed(ctx context.Context, db *gorm.DB, sellerID string) (bool, error) {
	return repo.HasRuleSeed(ctx, db, sellerID)
}

// CreateRuleSeed proxies repo.CreateRuleSeed.
func (RuleRepoShim) CreateRuleSeed(ctx context.Context, db *gorm.DB, sellerID string, n int, now time.Time) error {
	return repo.CreateRuleSeed(ctx, db, sellerID, n, now)
}

// Deps are the collaborators RegisterRoutes builds services from.
type Deps struct {
	DB      *gorm.DB
	Catalog []templates.Template
	// Cache backs the dashboard summary; nil disables caching.
	Cache services.StatsCache
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, authentication, idempotency and rate limiting, health and metrics
// endpoints, and then mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers (preflights answered before auth)
//  8. Gzip compression
//  9. Auth (bearer JWT, only when a secret is configured)
// 10. Idempotency validator (before rate limiter to allow bypass on replay)
// 11. Rate limiter (per seller/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", "X-Seller-ID", middleware.HeaderIdempotencyKey}
	exposeHeaders := append([]string{"Content-Length"}, middleware.ExposedHeaders...)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 8) Compress responses; scrapes and docs are left alone.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/swagger"})))

	// 9) Seller authentication
	r.Use(middleware.Auth(middleware.AuthOptions{
		Secret:    cfg.Auth.JWTSecret,
		SkipPaths: []string{"/health", "/metrics", "/swagger"},
	}))

	// 10) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen:        200,
			DefaultSeller: cfg.DefaultSellerID,
		},
		func(ctx context.Context, sellerID, scope, key string, now time.Time) (bool, error) {
			return repo.IdempotencyExists(ctx, db, sellerID, scope, key, now)
		},
	))

	// 11) Token-bucket rate limiter per seller/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySellerOrIP(),
		middleware.WithIdleTTL(cfg.RateIdleTTL))
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/catalog/cache
	ruleSvc := services.NewRuleService(db, RuleRepoShim{}, deps.Catalog)
	leadSvc := &services.LeadService{DB: db, Rules: ruleSvc}
	dashSvc := &services.DashboardService{DB: db, Cache: deps.Cache}
	h := handlers.New(ruleSvc, leadSvc, dashSvc, handlers.Options{
		DefaultSeller:  cfg.DefaultSellerID,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Auto-response rules
		api.GET("/auto-responses", h.ListRules)
		api.POST("/auto-responses", h.CreateRule)
		api.POST("/auto-responses/defaults", h.SeedDefaults)
		api.POST("/auto-responses/match", h.MatchRules)
		api.GET("/auto-responses/:id", h.GetRule)
		api.PUT("/auto-responses/:id", h.UpdateRule)
		api.DELETE("/auto-responses/:id", h.DeleteRule)

		// Leads
		api.GET("/leads", h.ListLeads)
		api.POST("/leads", h.CreateLead)
		api.GET("/leads/:id", h.GetLead)
		api.PUT("/leads/:id", h.UpdateLead)
		api.DELETE("/leads/:id", h.DeleteLead)
		api.GET("/leads/:id/responses", h.ListLeadResponses)
		api.POST("/leads/:id/inquiries", h.PostInquiry)

		// Dashboard
		api.GET("/dashboard/stats", h.DashboardStats)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error. A non-positive cap disables it.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
