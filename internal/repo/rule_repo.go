// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the rule store for AutoResponseRule.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic beyond the
// patch merge, only CRUD persistence and query composition.
//
// Error semantics:
//   - When a rule is not found, functions return ErrNotFound. It is a
//     sentinel value, never a panic, and handlers translate it to 404.
//   - Creating a rule whose id already exists returns ErrDuplicate.
//   - On other DB errors, the raw gorm error is propagated.
//
// Functions:
//
//   - CreateRule(ctx, db, rule) -> error
//   - GetRule(ctx, db, id) -> *domain.AutoResponseRule, error
//   - ListRules(ctx, db, sellerID) -> []domain.AutoResponseRule, error
//     Insertion order (seq ASC); updates never reorder.
//   - ListActiveRules(ctx, db, sellerID) -> []domain.AutoResponseRule, error
//   - CountRules(ctx, db, sellerID) -> int64, error
//   - UpdateRule(ctx, db, id, patch, now) -> *domain.AutoResponseRule, error
//     Merges supplied fields and keeps UpdatedAt monotonic.
//   - DeleteRule(ctx, db, id) -> error
//   - IncrementRuleUsage(ctx, db, id, now) -> error
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

// ruleOrder is insertion order. Seq never changes after insert, so edits
// (priority included) do not move a rule in listings.
const ruleOrder = "seq ASC, id ASC"

// CreateRule inserts a fully formed rule. The caller assigns ID and
// timestamps; Seq is assigned here as one past the highest stored value.
// A clashing ID yields ErrDuplicate.
func CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoResponseRule) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&domain.AutoResponseRule{}).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		r.Seq = last + 1
		if err := tx.Create(r).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// GetRule fetches a single rule by id, or ErrNotFound.
func GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AutoResponseRule, error) {
	var r domain.AutoResponseRule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns every rule of sellerID in insertion order, active or not.
// It returns an empty slice if the seller has no rules.
func ListRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	out := []domain.AutoResponseRule{}
	err := db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order(ruleOrder).
		Find(&out).Error
	return out, err
}

// ListActiveRules returns the seller's active rules in insertion order.
func ListActiveRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	out := []domain.AutoResponseRule{}
	err := db.WithContext(ctx).
		Where("seller_id = ? AND is_active = ?", sellerID, true).
		Order(ruleOrder).
		Find(&out).Error
	return out, err
}

// CountRules returns the number of rules owned by sellerID.
func CountRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AutoResponseRule{}).
		Where("seller_id = ?", sellerID).
		Count(&total).Error
	return total, err
}

// UpdateRule merges patch into the stored rule and persists it inside a
// transaction. UpdatedAt becomes now, or stays at its prior value if now is
// earlier, so it never moves backwards. Returns ErrNotFound when id is absent;
// nothing is written in that case.
func UpdateRule(ctx context.Context, db *gorm.DB, id string, patch domain.RulePatch, now time.Time) (*domain.AutoResponseRule, error) {
	var out *domain.AutoResponseRule
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := GetRule(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(r)
		if now.After(r.UpdatedAt) {
			r.UpdatedAt = now
		}
		res := tx.Model(&domain.AutoResponseRule{}).
			Where("id = ?", id).
			Select("*").
			Omit("id", "seq", "seller_id", "created_at").
			Updates(r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRule permanently removes a rule. Returns ErrNotFound when id is absent.
func DeleteRule(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.AutoResponseRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRuleUsage bumps usage_count by one. UpdatedAt moves to now unless
// the stored value is later, as in UpdateRule.
func IncrementRuleUsage(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := GetRule(ctx, tx, id)
		if err != nil {
			return err
		}
		updated := r.UpdatedAt
		if now.After(updated) {
			updated = now
		}
		res := tx.Model(&domain.AutoResponseRule{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"usage_count": gorm.Expr("usage_count + 1"),
				"updated_at":  updated,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// HasRuleSeed reports whether default rules were already synthesized for sellerID.
func HasRuleSeed(ctx context.Context, db *gorm.DB, sellerID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RuleSeed{}).
		Where("seller_id = ?", sellerID).
		Count(&n).Error
	return n > 0, err
}

// CreateRuleSeed records that sellerID was seeded with n templates.
// A second marker for the same seller yields ErrDuplicate.
func CreateRuleSeed(ctx context.Context, db *gorm.DB, sellerID string, n int, now time.Time) error {
	rec := &domain.RuleSeed{SellerID: sellerID, Templates: n, SeededAt: now}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
