// Package services – DashboardService
//
// This file implements the seller dashboard summary. Aggregates are computed
// from the rule, lead, and response tables and cached per seller for a short
// TTL. The cache is pluggable: an in-process map by default, Redis when a
// shared cache is configured. Cache failures degrade to a fresh computation.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/observability"
	"github.com/tbourn/go-listing-dashboard/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TopRuleLimit caps DashboardStats.TopRules.
const TopRuleLimit = 5

// TopRule is a compact view of a busy rule.
type TopRule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	UsageCount  int     `json:"usageCount"`
	SuccessRate float64 `json:"successRate"`
	IsActive    bool    `json:"isActive"`
}

// DashboardStats is the seller summary shown on the dashboard.
type DashboardStats struct {
	TotalRules        int64            `json:"totalRules"`
	ActiveRules       int64            `json:"activeRules"`
	TotalLeads        int64            `json:"totalLeads"`
	LeadsByStatus     map[string]int64 `json:"leadsByStatus"`
	AutoResponsesSent int64            `json:"autoResponsesSent"`
	AutoResponses24h  int64            `json:"autoResponses24h"`
	TopRules          []TopRule        `json:"topRules"`
	GeneratedAt       time.Time        `json:"generatedAt"`
}

func (st *DashboardStats) clone() *DashboardStats {
	if st == nil {
		return nil
	}
	cp := *st
	if st.LeadsByStatus != nil {
		cp.LeadsByStatus = make(map[string]int64, len(st.LeadsByStatus))
		for k, v := range st.LeadsByStatus {
			cp.LeadsByStatus[k] = v
		}
	}
	if st.TopRules != nil {
		cp.TopRules = append([]TopRule(nil), st.TopRules...)
	}
	return &cp
}

// StatsCache stores computed summaries per seller. Get reports a miss with
// ok=false; expired entries count as misses.
type StatsCache interface {
	Get(ctx context.Context, sellerID string) (stats *DashboardStats, ok bool, err error)
	Set(ctx context.Context, sellerID string, stats *DashboardStats) error
}

// DashboardService computes and caches dashboard summaries.
type DashboardService struct {
	DB    *gorm.DB
	Cache StatsCache // optional

	// Now returns the current time; defaults to time.Now in UTC.
	Now func() time.Time
}

func (s *DashboardService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Stats returns the summary for sellerID, from cache when fresh.
func (s *DashboardService) Stats(ctx context.Context, sellerID string) (*DashboardStats, error) {
	tr := observability.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "Stats",
		trace.WithAttributes(attribute.String("seller.id", sellerID)),
	)
	defer span.End()

	if s.Cache != nil {
		st, ok, err := s.Cache.Get(ctx, sellerID)
		switch {
		case err != nil:
			observability.DashboardCache.WithLabelValues("error").Inc()
			log.Ctx(ctx).Warn().Err(err).Str("seller_id", sellerID).Msg("dashboard cache get failed")
		case ok:
			observability.DashboardCache.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return st, nil
		default:
			observability.DashboardCache.WithLabelValues("miss").Inc()
		}
	}

	st, err := s.compute(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, sellerID, st); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("seller_id", sellerID).Msg("dashboard cache set failed")
		}
	}
	return st, nil
}

func (s *DashboardService) compute(ctx context.Context, sellerID string) (*DashboardStats, error) {
	now := s.now()
	st := &DashboardStats{GeneratedAt: now}

	var err error
	if st.TotalRules, err = repo.CountRules(ctx, s.DB, sellerID); err != nil {
		return nil, err
	}
	if st.ActiveRules, err = repo.CountActiveRules(ctx, s.DB, sellerID); err != nil {
		return nil, err
	}
	if st.LeadsByStatus, err = repo.CountLeadsByStatus(ctx, s.DB, sellerID); err != nil {
		return nil, err
	}
	for _, n := range st.LeadsByStatus {
		st.TotalLeads += n
	}
	if st.AutoResponsesSent, err = repo.CountResponseEvents(ctx, s.DB, sellerID, time.Time{}); err != nil {
		return nil, err
	}
	if st.AutoResponses24h, err = repo.CountResponseEvents(ctx, s.DB, sellerID, now.Add(-24*time.Hour)); err != nil {
		return nil, err
	}

	top, err := repo.TopRules(ctx, s.DB, sellerID, TopRuleLimit)
	if err != nil {
		return nil, err
	}
	st.TopRules = make([]TopRule, 0, len(top))
	for _, r := range top {
		st.TopRules = append(st.TopRules, TopRule{
			ID:          r.ID,
			Name:        r.Name,
			UsageCount:  r.UsageCount,
			SuccessRate: r.SuccessRate,
			IsActive:    r.IsActive,
		})
	}
	return st, nil
}
