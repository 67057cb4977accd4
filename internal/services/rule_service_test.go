package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/matcher"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ---------- Create() ----------

func TestRuleService_Create_Validation(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	ctx := context.Background()

	cases := []CreateRuleInput{
		{SellerID: "s1", Name: " ", Triggers: []string{"a"}, Response: "r"},
		{SellerID: "s1", Name: "n", Triggers: []string{" ", ""}, Response: "r"},
		{SellerID: "s1", Name: "n", Triggers: []string{"a"}, Response: "  "},
		{SellerID: "s1", Name: "n", Triggers: []string{"a"}, Response: "r", Platforms: []string{"myspace"}},
	}
	neg := -1
	cases = append(cases, CreateRuleInput{SellerID: "s1", Name: "n", Triggers: []string{"a"}, Response: "r",
		Conditions: &domain.ConditionsPatch{TimeWindow: &neg}})

	for i, in := range cases {
		if _, err := s.Create(ctx, in); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("case %d: expected ErrInvalidRule, got %v", i, err)
		}
	}
	if n, _ := s.Repo.CountRules(ctx, db, "s1"); n != 0 {
		t.Fatalf("invalid creates must not mutate, got %d rules", n)
	}
}

func TestRuleService_Create_DefaultsAndPriority(t *testing.T) {
	db := newSvcDB(t)
	clk := &clock{t: t0}
	s := newRuleSvc(t, db, clk)
	ctx := context.Background()

	maxResp := 4
	first, err := s.Create(ctx, CreateRuleInput{
		SellerID:   "s1",
		Name:       " Hello ",
		Triggers:   []string{" Hi ", "hi", "HELLO"},
		Response:   "Hey!",
		Conditions: &domain.ConditionsPatch{MaxResponses: &maxResp},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.ID == "" || first.Name != "Hello" || first.Priority != 1 || !first.IsActive {
		t.Fatalf("unexpected rule: %+v", first)
	}
	if len(first.Triggers) != 2 || first.Triggers[0] != "hi" || first.Triggers[1] != "hello" {
		t.Fatalf("triggers not normalized: %v", first.Triggers)
	}
	want := domain.DefaultConditions()
	want.MaxResponses = 4
	if first.Conditions != want {
		t.Fatalf("conditions = %+v, want %+v", first.Conditions, want)
	}
	if len(first.Platforms) != 3 || first.UsageCount != 0 || first.SuccessRate != 0 {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if !first.CreatedAt.Equal(t0) || !first.UpdatedAt.Equal(t0) {
		t.Fatalf("timestamps not set: %+v", first)
	}

	clk.Advance(time.Minute)
	inactive := false
	second, err := s.Create(ctx, CreateRuleInput{
		SellerID: "s1", Name: "Two", Triggers: []string{"x"}, Response: "y",
		Platforms: []string{"Craigslist"}, IsActive: &inactive,
	})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if second.Priority != 2 || second.IsActive || len(second.Platforms) != 1 || second.Platforms[0] != "craigslist" {
		t.Fatalf("unexpected second rule: %+v", second)
	}

	list, err := s.List(ctx, "s1")
	if err != nil || len(list) != 2 || list[0].ID != first.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}
}

// ---------- Get/Update/Delete ----------

func TestRuleService_Update_MergeAndScoping(t *testing.T) {
	db := newSvcDB(t)
	clk := &clock{t: t0}
	s := newRuleSvc(t, db, clk)
	ctx := context.Background()

	r, err := s.Create(ctx, CreateRuleInput{SellerID: "s1", Name: "A", Triggers: []string{"a"}, Response: "r"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(time.Hour)
	usage := 7
	got, err := s.Update(ctx, "s1", r.ID, domain.RulePatch{UsageCount: &usage})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.UsageCount != 7 || got.Name != "A" || !got.UpdatedAt.Equal(t0.Add(time.Hour)) || !got.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected update result: %+v", got)
	}

	if _, err := s.Update(ctx, "s2", r.ID, domain.RulePatch{UsageCount: &usage}); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("foreign seller: expected ErrRuleNotFound, got %v", err)
	}
	if _, err := s.Update(ctx, "", "missing", domain.RulePatch{UsageCount: &usage}); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("missing: expected ErrRuleNotFound, got %v", err)
	}
	blank := " "
	if _, err := s.Update(ctx, "s1", r.ID, domain.RulePatch{Name: &blank}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("blank name: expected ErrInvalidRule, got %v", err)
	}
	bad := []string{"facebook", "mars"}
	if _, err := s.Update(ctx, "s1", r.ID, domain.RulePatch{Platforms: &bad}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("bad platform: expected ErrInvalidRule, got %v", err)
	}

	// Unscoped get works; scoped to another seller does not.
	if _, err := s.Get(ctx, "", r.ID); err != nil {
		t.Fatalf("unscoped Get: %v", err)
	}
	if _, err := s.Get(ctx, "s2", r.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("scoped Get: expected ErrRuleNotFound, got %v", err)
	}

	if err := s.Delete(ctx, "s2", r.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("foreign delete: expected ErrRuleNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "s1", r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "s1", r.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("second delete: expected ErrRuleNotFound, got %v", err)
	}
}

// ---------- EnsureDefaults() ----------

// listWithDefaults mirrors the rules listing endpoint: seed, then list.
func listWithDefaults(t *testing.T, s *RuleService, seller string) ([]domain.AutoResponseRule, error) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsureDefaults(ctx, seller); err != nil {
		return nil, err
	}
	return s.List(ctx, seller)
}

func TestRuleService_EnsureDefaults_SeedsOnce(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	ctx := context.Background()

	list, err := listWithDefaults(t, s, "s1")
	if err != nil {
		t.Fatalf("listWithDefaults: %v", err)
	}
	if len(list) != len(testCatalog) {
		t.Fatalf("expected %d seeded rules, got %d", len(testCatalog), len(list))
	}
	first := list[0]
	if first.ID != "rule-availability-s1" || first.Name != "Availability" || first.Priority != 1 {
		t.Fatalf("unexpected first seeded rule: %+v", first)
	}
	if list[1].ID != "rule-priceInquiry-s1" || list[1].Name != "Price Inquiry" || list[1].Priority != 2 {
		t.Fatalf("unexpected second seeded rule: %+v", list[1])
	}
	if first.Conditions != domain.DefaultConditions() || len(first.Platforms) != 3 || !first.IsActive {
		t.Fatalf("unexpected seeded defaults: %+v", first)
	}
	if len(first.Triggers) != 2 || first.Triggers[0] != "available" {
		t.Fatalf("seeded triggers not normalized: %v", first.Triggers)
	}

	// Second call is a no-op.
	n, err := s.EnsureDefaults(ctx, "s1")
	if err != nil || n != 0 {
		t.Fatalf("second EnsureDefaults = %d, %v", n, err)
	}

	// Deleting everything does not trigger a re-seed.
	for _, r := range list {
		if err := s.Delete(ctx, "s1", r.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	again, err := listWithDefaults(t, s, "s1")
	if err != nil || len(again) != 0 {
		t.Fatalf("expected empty list after deletes, got %d, %v", len(again), err)
	}

	// Another seller gets its own deterministic ids.
	other, _ := listWithDefaults(t, s, "s2")
	if len(other) != 2 || other[0].ID != SeededRuleID("availability", "s2") {
		t.Fatalf("unexpected other-seller rules: %+v", other)
	}
}

func TestRuleService_List_KeepsInsertionOrderAfterPriorityEdit(t *testing.T) {
	db := newSvcDB(t)
	clk := &clock{t: t0}
	s := newRuleSvc(t, db, clk)
	ctx := context.Background()

	before, err := listWithDefaults(t, s, "s1")
	if err != nil || len(before) != 2 {
		t.Fatalf("listWithDefaults: %d, %v", len(before), err)
	}
	clk.Advance(time.Minute)
	prio := 99
	if _, err := s.Update(ctx, "s1", before[0].ID, domain.RulePatch{Priority: &prio}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	after, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Fatalf("order changed: before=[%s %s] after=[%s %s]",
				before[0].ID, before[1].ID, after[0].ID, after[1].ID)
		}
	}
}

func TestRuleService_EnsureDefaults_SkipsSellerWithRules(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateRuleInput{SellerID: "s1", Name: "Mine", Triggers: []string{"x"}, Response: "y"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := s.EnsureDefaults(ctx, "s1")
	if err != nil || n != 0 {
		t.Fatalf("EnsureDefaults = %d, %v; want 0", n, err)
	}
}

func TestRuleService_EnsureDefaults_EmptyCatalog(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	s.Templates = []templates.Template{}

	list, err := listWithDefaults(t, s, "s1")
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", list, err)
	}
}

func TestRuleService_EnsureDefaults_SkipsExistingIDs(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	ctx := context.Background()

	// A rule with a seeded id owned by someone else blocks only that template.
	clash := &domain.AutoResponseRule{
		ID: SeededRuleID("availability", "s1"), SellerID: "other", Name: "x",
		Triggers: []string{"x"}, Response: "x", Platforms: domain.AllPlatforms(),
		CreatedAt: t0, UpdatedAt: t0,
	}
	if err := db.Create(clash).Error; err != nil {
		t.Fatalf("seed clash: %v", err)
	}
	n, err := s.EnsureDefaults(ctx, "s1")
	if err != nil || n != 1 {
		t.Fatalf("EnsureDefaults = %d, %v; want 1", n, err)
	}
}

// ---------- Evaluate() ----------

func TestRuleService_Evaluate_UsesActiveRulesAndHistory(t *testing.T) {
	db := newSvcDB(t)
	s := newRuleSvc(t, db, &clock{t: t0})
	ctx := context.Background()

	if _, err := s.EnsureDefaults(ctx, "s1"); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	in := matcher.Inquiry{Text: "Is this still available?", LeadID: "l1", Platform: "facebook", ReceivedAt: t0}

	d, err := s.Evaluate(ctx, "s1", in, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Fired || d.Rule.ID != "rule-availability-s1" || d.Response != "Yes, still available." {
		t.Fatalf("unexpected decision: %+v", d)
	}

	// One prior firing hits maxResponses=1.
	ev := &domain.ResponseEvent{SellerID: "s1", RuleID: d.Rule.ID, LeadID: "l1", Platform: "facebook", Inquiry: "q", Response: "a", CreatedAt: t0.Add(-2 * time.Hour)}
	if err := db.Create(ev).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	d, _ = s.Evaluate(ctx, "s1", in, false)
	if d.Fired || d.Reason != matcher.ReasonMaxResponses {
		t.Fatalf("expected max_responses, got %+v", d)
	}

	// Deactivated rules are never selected.
	off := false
	if _, err := s.Update(ctx, "s1", "rule-availability-s1", domain.RulePatch{IsActive: &off}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d, _ = s.Evaluate(ctx, "s1", in, false)
	if d.Matched || d.Reason != matcher.ReasonNoMatch {
		t.Fatalf("expected no_match, got %+v", d)
	}
}

// ---------- error propagation via a failing repo ----------

type failingRepo struct {
	ruleRepo
	err error
}

func (f failingRepo) CountRules(context.Context, *gorm.DB, string) (int64, error) { return 0, f.err }

func TestRuleService_Create_RepoErrorPropagates(t *testing.T) {
	db := newSvcDB(t)
	boom := errors.New("boom")
	s := NewRuleService(db, failingRepo{err: boom}, nil)
	_, err := s.Create(context.Background(), CreateRuleInput{SellerID: "s1", Name: "n", Triggers: []string{"a"}, Response: "r"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
