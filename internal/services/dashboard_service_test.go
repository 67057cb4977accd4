package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

func TestDashboardService_Stats_Aggregates(t *testing.T) {
	ls, clk := newLeadSvc(t)
	ctx := context.Background()

	a, _ := ls.Create(ctx, CreateLeadInput{SellerID: "s1", ListingTitle: "Bike", Platform: "facebook"})
	_, _ = ls.Create(ctx, CreateLeadInput{SellerID: "s1", ListingTitle: "Desk", Platform: "offerup", Status: domain.LeadSold})
	if _, err := ls.Inquiry(ctx, "s1", a.ID, "still available?", t0.Add(-48*time.Hour)); err != nil {
		t.Fatalf("Inquiry: %v", err)
	}
	if _, err := ls.Inquiry(ctx, "s1", a.ID, "what's the price?", time.Time{}); err != nil {
		t.Fatalf("Inquiry: %v", err)
	}

	d := &DashboardService{DB: ls.DB, Now: clk.Now}
	st, err := d.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalRules != 2 || st.ActiveRules != 2 {
		t.Fatalf("rule counts = %d/%d", st.TotalRules, st.ActiveRules)
	}
	if st.TotalLeads != 2 || st.LeadsByStatus[domain.LeadNew] != 1 || st.LeadsByStatus[domain.LeadSold] != 1 {
		t.Fatalf("lead counts = %d %v", st.TotalLeads, st.LeadsByStatus)
	}
	if st.AutoResponsesSent != 2 || st.AutoResponses24h != 1 {
		t.Fatalf("response counts = %d/%d", st.AutoResponsesSent, st.AutoResponses24h)
	}
	if len(st.TopRules) != 2 || st.TopRules[0].UsageCount != 1 {
		t.Fatalf("top rules = %+v", st.TopRules)
	}
	if !st.GeneratedAt.Equal(t0) {
		t.Fatalf("generatedAt = %v", st.GeneratedAt)
	}
}

func TestDashboardService_Stats_UsesCache(t *testing.T) {
	db := newSvcDB(t)
	clk := &clock{t: t0}
	cache := NewMemoryStatsCache(30 * time.Second)
	cache.Now = clk.Now
	d := &DashboardService{DB: db, Cache: cache, Now: clk.Now}
	ctx := context.Background()

	first, err := d.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if err := db.Create(&domain.Lead{ID: "l1", SellerID: "s1", ListingTitle: "x", Platform: "facebook", Status: "new", CreatedAt: t0, UpdatedAt: t0}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk.Advance(10 * time.Second)
	cached, _ := d.Stats(ctx, "s1")
	if !cached.GeneratedAt.Equal(first.GeneratedAt) || cached.TotalLeads != 0 {
		t.Fatalf("expected cached snapshot, got %+v", cached)
	}

	clk.Advance(30 * time.Second)
	fresh, _ := d.Stats(ctx, "s1")
	if !fresh.GeneratedAt.After(first.GeneratedAt) || fresh.TotalLeads != 1 {
		t.Fatalf("expected recomputed stats after TTL, got %+v", fresh)
	}
}

type brokenCache struct{ sets int }

func (b *brokenCache) Get(context.Context, string) (*DashboardStats, bool, error) {
	return nil, false, errors.New("down")
}
func (b *brokenCache) Set(context.Context, string, *DashboardStats) error {
	b.sets++
	return errors.New("down")
}

func TestDashboardService_Stats_CacheFailureFallsBack(t *testing.T) {
	db := newSvcDB(t)
	bc := &brokenCache{}
	d := &DashboardService{DB: db, Cache: bc}
	st, err := d.Stats(context.Background(), "s1")
	if err != nil || st == nil {
		t.Fatalf("expected computed stats despite cache failure, got %v, %v", st, err)
	}
	if bc.sets != 1 {
		t.Fatalf("expected one Set attempt, got %d", bc.sets)
	}
}

func TestMemoryStatsCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryStatsCache(time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "s1", &DashboardStats{TotalRules: 1})
			_, _, _ = c.Get(ctx, "s1")
		}()
	}
	wg.Wait()
	if st, ok, _ := c.Get(ctx, "s1"); !ok || st.TotalRules != 1 {
		t.Fatalf("expected cached entry, got %v, %v", st, ok)
	}
}

func TestMemoryStatsCache_SweepsExpiredSellers(t *testing.T) {
	now := t0
	c := NewMemoryStatsCache(time.Minute)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < memSweepEvery-1; i++ {
		_ = c.Set(ctx, fmt.Sprintf("seller-%d", i), &DashboardStats{TotalRules: int64(i)})
	}
	now = now.Add(2 * time.Minute)
	_ = c.Set(ctx, "fresh", &DashboardStats{TotalRules: 1})

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected only the fresh entry after sweep, got %d", n)
	}
	if st, ok, _ := c.Get(ctx, "fresh"); !ok || st.TotalRules != 1 {
		t.Fatalf("fresh entry lost: %v, %v", st, ok)
	}
}

func TestMemoryStatsCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryStatsCache(time.Minute)
	ctx := context.Background()

	orig := &DashboardStats{
		TotalRules:    2,
		LeadsByStatus: map[string]int64{"new": 1},
		TopRules:      []TopRule{{ID: "r1", UsageCount: 3}},
	}
	_ = c.Set(ctx, "s1", orig)
	orig.LeadsByStatus["new"] = 99

	got, ok, _ := c.Get(ctx, "s1")
	if !ok {
		t.Fatal("expected hit")
	}
	got.TotalRules = 7
	got.LeadsByStatus["sold"] = 5
	got.TopRules[0].UsageCount = 0

	again, _, _ := c.Get(ctx, "s1")
	if again.TotalRules != 2 || again.LeadsByStatus["new"] != 1 || len(again.LeadsByStatus) != 1 || again.TopRules[0].UsageCount != 3 {
		t.Fatalf("cached entry was mutated through a caller: %+v", again)
	}
}

func TestNewRedisStatsCache_Errors(t *testing.T) {
	if _, err := NewRedisStatsCache(context.Background(), "  ", "p", time.Second); err == nil {
		t.Fatalf("expected error for blank address")
	}
	// Nothing listens on port 1; PING must fail.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisStatsCache(ctx, "127.0.0.1:1", "p", time.Second); err == nil {
		t.Fatalf("expected ping error for unreachable redis")
	}
}

func TestRedisStatsCache_Key(t *testing.T) {
	c := &RedisStatsCache{prefix: "dash"}
	if got := c.key("s1"); got != "dash:stats:s1" {
		t.Fatalf("key = %q", got)
	}
	var nilCache *RedisStatsCache
	if err := nilCache.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
