// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Lead model.
//
// Leads are soft-deleted (gorm.DeletedAt), so deleted leads disappear from
// every query below but keep their response history intact.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

// CreateLead inserts a lead. An empty ID is replaced with a fresh UUID and
// zero timestamps are stamped with the current UTC time.
func CreateLead(ctx context.Context, db *gorm.DB, l *domain.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	if l.Status == "" {
		l.Status = domain.LeadNew
	}
	return db.WithContext(ctx).Create(l).Error
}

// GetLead fetches a lead by id, or ErrNotFound.
func GetLead(ctx context.Context, db *gorm.DB, id string) (*domain.Lead, error) {
	var l domain.Lead
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func leadScope(db *gorm.DB, sellerID, status string) *gorm.DB {
	q := db.Where("seller_id = ?", sellerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

// CountLeads returns how many leads sellerID has, optionally filtered by status.
func CountLeads(ctx context.Context, db *gorm.DB, sellerID, status string) (int64, error) {
	var total int64
	err := leadScope(db.WithContext(ctx).Model(&domain.Lead{}), sellerID, status).
		Count(&total).Error
	return total, err
}

// ListLeadsPage returns a page of leads, most recently updated first.
func ListLeadsPage(ctx context.Context, db *gorm.DB, sellerID, status string, offset, limit int) ([]domain.Lead, error) {
	out := []domain.Lead{}
	err := leadScope(db.WithContext(ctx), sellerID, status).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveLead writes every mutable column of l. Returns ErrNotFound when the
// lead does not exist (or was deleted).
func SaveLead(ctx context.Context, db *gorm.DB, l *domain.Lead) error {
	res := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ?", l.ID).
		Select("listing_title", "platform", "buyer_name", "status", "last_message", "human_replied_at", "updated_at").
		Updates(l)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLead soft-deletes a lead. Returns ErrNotFound when id is absent.
func DeleteLead(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Lead{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountLeadsByStatus groups the seller's leads by status.
func CountLeadsByStatus(ctx context.Context, db *gorm.DB, sellerID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Select("status, COUNT(*) AS n").
		Where("seller_id = ?", sellerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
