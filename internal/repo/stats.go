// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer and for the
// dashboard summary. Each function is context-aware and safe to call from
// services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

// RulesStats returns aggregate metadata for a seller's rules: the total number
// of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the seller has no rules, the returned count is 0 and maxUpdatedAt is nil.
func RulesStats(ctx context.Context, db *gorm.DB, sellerID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(db.WithContext(ctx).Model(&domain.AutoResponseRule{}).Where("seller_id = ?", sellerID))
}

// LeadsStats returns the same metadata for a seller's (non-deleted) leads,
// optionally restricted to one status.
func LeadsStats(ctx context.Context, db *gorm.DB, sellerID, status string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(leadScope(db.WithContext(ctx).Model(&domain.Lead{}), sellerID, status))
}

func latestStats(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q = q.Session(&gorm.Session{})

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CountActiveRules returns how many of the seller's rules are active.
func CountActiveRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.AutoResponseRule{}).
		Where("seller_id = ? AND is_active = ?", sellerID, true).
		Count(&n).Error
	return n, err
}

// TopRules returns up to limit rules of the seller ordered by usage, busiest first.
func TopRules(ctx context.Context, db *gorm.DB, sellerID string, limit int) ([]domain.AutoResponseRule, error) {
	out := []domain.AutoResponseRule{}
	err := db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("usage_count DESC, priority ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
