// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the response history used to evaluate
// rule conditions (time window, response caps).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

// RuleHistory summarizes prior firings of one rule for one lead.
type RuleHistory struct {
	Count    int64
	LastSent *time.Time
}

// CreateResponseEvent appends an automated reply to the history. ID and
// CreatedAt are filled in when empty.
func CreateResponseEvent(ctx context.Context, db *gorm.DB, ev *domain.ResponseEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// GetRuleHistory returns how often ruleID fired for leadID and when it last did.
func GetRuleHistory(ctx context.Context, db *gorm.DB, ruleID, leadID string) (RuleHistory, error) {
	var h RuleHistory
	q := db.WithContext(ctx).
		Model(&domain.ResponseEvent{}).
		Where("rule_id = ? AND lead_id = ?", ruleID, leadID).
		Session(&gorm.Session{})

	if err := q.Count(&h.Count).Error; err != nil {
		return RuleHistory{}, err
	}
	if h.Count == 0 {
		return h, nil
	}

	// Latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err := q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return RuleHistory{}, err
	}
	h.LastSent = &row.CreatedAt
	return h, nil
}

// CountResponseEvents counts automated replies for sellerID. A non-zero since
// restricts the count to events at or after that instant.
func CountResponseEvents(ctx context.Context, db *gorm.DB, sellerID string, since time.Time) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.ResponseEvent{}).Where("seller_id = ?", sellerID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	err := q.Count(&n).Error
	return n, err
}

// ListLeadEvents returns the response history of a lead, oldest first.
func ListLeadEvents(ctx context.Context, db *gorm.DB, leadID string) ([]domain.ResponseEvent, error) {
	out := []domain.ResponseEvent{}
	err := db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
