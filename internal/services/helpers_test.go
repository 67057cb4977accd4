package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ruleRepo adapts the repo package functions to RuleRepo.
type ruleRepo struct{}

func (ruleRepo) CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoResponseRule) error {
	return repo.CreateRule(ctx, db, r)
}
func (ruleRepo) GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AutoResponseRule, error) {
	return repo.GetRule(ctx, db, id)
}
func (ruleRepo) ListRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListRules(ctx, db, sellerID)
}
func (ruleRepo) ListActiveRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error) {
	return repo.ListActiveRules(ctx, db, sellerID)
}
func (ruleRepo) CountRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error) {
	return repo.CountRules(ctx, db, sellerID)
}
func (ruleRepo) UpdateRule(ctx context.Context, db *gorm.DB, id string, p domain.RulePatch, now time.Time) (*domain.AutoResponseRule, error) {
	return repo.UpdateRule(ctx, db, id, p, now)
}
func (ruleRepo) DeleteRule(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteRule(ctx, db, id)
}
func (ruleRepo) HasRuleSeed(ctx context.Context, db *gorm.DB, sellerID string) (bool, error) {
	return repo.HasRuleSeed(ctx, db, sellerID)
}
func (ruleRepo) CreateRuleSeed(ctx context.Context, db *gorm.DB, sellerID string, n int, now time.Time) error {
	return repo.CreateRuleSeed(ctx, db, sellerID, n, now)
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var testCatalog = []templates.Template{
	{Key: "availability", Triggers: []string{"Available", "still available"}, Response: "Yes, still available."},
	{Key: "priceInquiry", Triggers: []string{"price"}, Response: "Price is firm."},
}

func newRuleSvc(t *testing.T, db *gorm.DB, clk *clock) *RuleService {
	t.Helper()
	s := NewRuleService(db, ruleRepo{}, testCatalog)
	s.Now = clk.Now
	return s
}

