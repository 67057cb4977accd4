// Package services – RuleService
//
// This file implements RuleService, which owns the lifecycle of a seller's
// auto-response rules: validation and defaults on create, partial updates,
// deletion, default-rule seeding from the template catalog, and dry-run
// matching of inquiries against the active rule set.
//
// Ownership: when a seller id is passed to Get/Update/Delete the rule must
// belong to that seller, otherwise ErrRuleNotFound is returned. An empty
// seller id skips the check (unauthenticated lookups by id).
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/matcher"
	"github.com/tbourn/go-listing-dashboard/internal/observability"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/templates"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RuleRepo defines the repository contract required by RuleService.
type RuleRepo interface {
	// CreateRule inserts a fully formed rule; ErrDuplicate on id clash.
	CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoResponseRule) error

	// GetRule fetches a rule by id, or ErrNotFound.
	GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.AutoResponseRule, error)

	// ListRules returns every rule of the seller in insertion order.
	ListRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error)

	// ListActiveRules returns the seller's active rules.
	ListActiveRules(ctx context.Context, db *gorm.DB, sellerID string) ([]domain.AutoResponseRule, error)

	// CountRules returns how many rules the seller owns.
	CountRules(ctx context.Context, db *gorm.DB, sellerID string) (int64, error)

	// UpdateRule merges patch into the stored rule.
	UpdateRule(ctx context.Context, db *gorm.DB, id string, patch domain.RulePatch, now time.Time) (*domain.AutoResponseRule, error)

	// DeleteRule removes a rule permanently.
	DeleteRule(ctx context.Context, db *gorm.DB, id string) error

	// HasRuleSeed reports whether defaults were already synthesized for the seller.
	HasRuleSeed(ctx context.Context, db *gorm.DB, sellerID string) (bool, error)

	// CreateRuleSeed records the seeding of a seller.
	CreateRuleSeed(ctx context.Context, db *gorm.DB, sellerID string, n int, now time.Time) error
}

// RuleService provides rule CRUD, seeding, and matching.
type RuleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the rule repository used by this service.
	Repo RuleRepo

	// Templates is the ordered default catalog used by EnsureDefaults.
	Templates []templates.Template
	// Matcher selects rules for inquiries.
	Matcher *matcher.Matcher
	// Now returns the current time; defaults to time.Now in UTC.
	Now func() time.Time
}

// MaxReportedCandidates caps the candidate ids a match decision lists.
const MaxReportedCandidates = 10

// NewRuleService constructs a RuleService with the given catalog and a
// matcher reporting at most MaxReportedCandidates candidates.
func NewRuleService(db *gorm.DB, r RuleRepo, catalog []templates.Template) *RuleService {
	return &RuleService{
		DB:        db,
		Repo:      r,
		Templates: catalog,
		Matcher:   matcher.New(matcher.WithMaxCandidates(MaxReportedCandidates)),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateRuleInput is the caller-supplied part of a new rule. Nil fields take
// defaults: all conditions from domain.DefaultConditions, every platform,
// and IsActive true.
type CreateRuleInput struct {
	SellerID   string
	Name       string
	Triggers   []string
	Response   string
	Conditions *domain.ConditionsPatch
	Platforms  []string
	IsActive   *bool
}

func (s *RuleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func tracer() trace.Tracer { return observability.Tracer("services/RuleService") }

// List returns all rules of the seller, active or not, in insertion order.
func (s *RuleService) List(ctx context.Context, sellerID string) ([]domain.AutoResponseRule, error) {
	ctx, span := tracer().Start(ctx, "List",
		trace.WithAttributes(attribute.String("seller.id", sellerID)),
	)
	defer span.End()

	return s.Repo.ListRules(ctx, s.DB, sellerID)
}

// Get returns one rule. See the package comment for seller scoping.
func (s *RuleService) Get(ctx context.Context, sellerID, id string) (*domain.AutoResponseRule, error) {
	ctx, span := tracer().Start(ctx, "Get",
		trace.WithAttributes(attribute.String("rule.id", id)),
	)
	defer span.End()

	return s.owned(ctx, sellerID, id)
}

func (s *RuleService) owned(ctx context.Context, sellerID, id string) (*domain.AutoResponseRule, error) {
	r, err := s.Repo.GetRule(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	if sellerID != "" && r.SellerID != sellerID {
		return nil, ErrRuleNotFound
	}
	return r, nil
}

// Create validates in, fills defaults, and persists a new rule. Priority is
// the seller's current rule count plus one, so new rules rank last.
func (s *RuleService) Create(ctx context.Context, in CreateRuleInput) (*domain.AutoResponseRule, error) {
	ctx, span := tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("seller.id", in.SellerID)),
	)
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	triggers := domain.NormalizeTriggers(in.Triggers)
	if len(triggers) == 0 {
		return nil, fmt.Errorf("%w: triggers are required", ErrInvalidRule)
	}
	response := strings.TrimSpace(in.Response)
	if response == "" {
		return nil, fmt.Errorf("%w: response is required", ErrInvalidRule)
	}
	platforms := domain.AllPlatforms()
	if len(in.Platforms) > 0 {
		platforms = domain.NormalizePlatforms(in.Platforms)
		if err := validatePlatforms(platforms); err != nil {
			return nil, err
		}
	}
	cond := in.Conditions.ApplyTo(domain.DefaultConditions())
	if err := validateConditions(cond); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	n, err := s.Repo.CountRules(ctx, s.DB, in.SellerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &domain.AutoResponseRule{
		ID:         uuid.NewString(),
		SellerID:   in.SellerID,
		Name:       name,
		Triggers:   triggers,
		Response:   response,
		Conditions: cond,
		IsActive:   active,
		Priority:   int(n) + 1,
		Platforms:  platforms,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.CreateRule(ctx, s.DB, r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateRule
		}
		return nil, err
	}
	return r, nil
}

// Update applies patch to a rule. Fields that are present must still be
// valid (non-blank name/response, at least one trigger, known platforms,
// non-negative conditions); nothing is written otherwise.
func (s *RuleService) Update(ctx context.Context, sellerID, id string, patch domain.RulePatch) (*domain.AutoResponseRule, error) {
	ctx, span := tracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("rule.id", id)),
	)
	defer span.End()

	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, sellerID, id); err != nil {
		return nil, err
	}
	r, err := s.Repo.UpdateRule(ctx, s.DB, id, patch, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, sellerID, id string) error {
	ctx, span := tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("rule.id", id)),
	)
	defer span.End()

	if _, err := s.owned(ctx, sellerID, id); err != nil {
		return err
	}
	if err := s.Repo.DeleteRule(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	return nil
}

// SeededRuleID is the deterministic id of the rule seeded from templateKey.
func SeededRuleID(templateKey, sellerID string) string {
	return "rule-" + templateKey + "-" + sellerID
}

// EnsureDefaults synthesizes one rule per catalog template for a seller that
// has never been seeded and currently has no rules. It returns how many rules
// were created; zero when nothing had to be done or the catalog is empty.
//
// The seed marker and the rules are written in one transaction, so
// concurrent callers seed a seller at most once.
func (s *RuleService) EnsureDefaults(ctx context.Context, sellerID string) (int, error) {
	ctx, span := tracer().Start(ctx, "EnsureDefaults",
		trace.WithAttributes(attribute.String("seller.id", sellerID)),
	)
	defer span.End()

	created := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seeded, err := s.Repo.HasRuleSeed(ctx, tx, sellerID)
		if err != nil || seeded {
			return err
		}
		n, err := s.Repo.CountRules(ctx, tx, sellerID)
		if err != nil || n > 0 {
			return err
		}

		now := s.now()
		if err := s.Repo.CreateRuleSeed(ctx, tx, sellerID, len(s.Templates), now); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return nil
			}
			return err
		}
		for i, tpl := range s.Templates {
			r := &domain.AutoResponseRule{
				ID:         SeededRuleID(tpl.Key, sellerID),
				SellerID:   sellerID,
				Name:       templates.DeriveName(tpl.Key),
				Triggers:   domain.NormalizeTriggers(tpl.Triggers),
				Response:   tpl.Response,
				Conditions: domain.DefaultConditions(),
				IsActive:   true,
				Priority:   i + 1,
				Platforms:  domain.AllPlatforms(),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.Repo.CreateRule(ctx, tx, r); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					continue
				}
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("rules.seeded", created))
	observability.RulesSeeded.Add(float64(created))
	return created, nil
}

// Evaluate runs the matcher over the seller's active rules without recording
// anything. Rule history is loaded from the response log when in.LeadID is set.
func (s *RuleService) Evaluate(ctx context.Context, sellerID string, in matcher.Inquiry, humanReplied bool) (matcher.Decision, error) {
	ctx, span := tracer().Start(ctx, "Evaluate",
		trace.WithAttributes(
			attribute.String("seller.id", sellerID),
			attribute.String("inquiry.platform", in.Platform),
		),
	)
	defer span.End()

	rules, err := s.Repo.ListActiveRules(ctx, s.DB, sellerID)
	if err != nil {
		return matcher.Decision{}, err
	}
	var hist matcher.HistoryFunc
	if in.LeadID != "" {
		hist = func(ruleID string) (matcher.History, error) {
			h, err := repo.GetRuleHistory(ctx, s.DB, ruleID, in.LeadID)
			return matcher.History{Count: h.Count, LastSent: h.LastSent}, err
		}
	}
	m := s.Matcher
	if m == nil {
		m = matcher.New()
	}
	d, err := m.Match(rules, in, humanReplied, hist)
	if err != nil {
		return matcher.Decision{}, err
	}
	span.SetAttributes(attribute.String("match.reason", string(d.Reason)))
	return d, nil
}

// ---- validation ----

func validatePlatforms(ps []string) error {
	if len(ps) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidRule)
	}
	for _, p := range ps {
		if !domain.IsSupportedPlatform(p) {
			return fmt.Errorf("%w: unsupported platform %q", ErrInvalidRule, p)
		}
	}
	return nil
}

func validateConditions(c domain.Conditions) error {
	if c.TimeWindow < 0 || c.MaxResponses < 0 || c.MinInquiryLength < 0 {
		return fmt.Errorf("%w: conditions must not be negative", ErrInvalidRule)
	}
	return nil
}

func validatePatch(p domain.RulePatch) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrInvalidRule)
	}
	if p.Response != nil && strings.TrimSpace(*p.Response) == "" {
		return fmt.Errorf("%w: response must not be blank", ErrInvalidRule)
	}
	if p.Triggers != nil && len(domain.NormalizeTriggers(*p.Triggers)) == 0 {
		return fmt.Errorf("%w: triggers must not be empty", ErrInvalidRule)
	}
	if p.Platforms != nil {
		if err := validatePlatforms(domain.NormalizePlatforms(*p.Platforms)); err != nil {
			return err
		}
	}
	if p.Conditions != nil {
		// Any negative override is invalid regardless of the stored value.
		if err := validateConditions(p.Conditions.ApplyTo(domain.Conditions{})); err != nil {
			return err
		}
	}
	if p.UsageCount != nil && *p.UsageCount < 0 {
		return fmt.Errorf("%w: usageCount must not be negative", ErrInvalidRule)
	}
	return nil
}
