// Package services – LeadService
//
// This file implements LeadService, which manages buyer leads and processes
// incoming inquiries. Processing an inquiry runs the matcher over the
// seller's active rules; when a rule fires, the response event, the rule's
// usage counter, and the lead's last message are written atomically.
//
// Observability: all public methods are OpenTelemetry-instrumented and the
// firing path feeds the autoresponse_* Prometheus counters.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
	"github.com/tbourn/go-listing-dashboard/internal/matcher"
	"github.com/tbourn/go-listing-dashboard/internal/observability"
	"github.com/tbourn/go-listing-dashboard/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LeadService coordinates lead persistence and inquiry handling.
type LeadService struct {
	DB    *gorm.DB
	Rules *RuleService

	// Now returns the current time; defaults to time.Now in UTC.
	Now func() time.Time
}

// CreateLeadInput is the caller-supplied part of a new lead.
type CreateLeadInput struct {
	SellerID     string
	ListingTitle string
	Platform     string
	BuyerName    string
	Status       string
}

// InquiryResult is the outcome of processing a buyer message.
type InquiryResult struct {
	Lead     *domain.Lead          `json:"lead"`
	Decision matcher.Decision      `json:"decision"`
	Event    *domain.ResponseEvent `json:"event,omitempty"`
}

func (s *LeadService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func leadTracer() trace.Tracer { return observability.Tracer("services/LeadService") }

// Create validates and inserts a lead. Status defaults to "new".
func (s *LeadService) Create(ctx context.Context, in CreateLeadInput) (*domain.Lead, error) {
	ctx, span := leadTracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("seller.id", in.SellerID)),
	)
	defer span.End()

	title := strings.TrimSpace(in.ListingTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: listingTitle is required", ErrInvalidLead)
	}
	platform := strings.ToLower(strings.TrimSpace(in.Platform))
	if !domain.IsSupportedPlatform(platform) {
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidLead, in.Platform)
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = domain.LeadNew
	}
	if !domain.IsLeadStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidLead, status)
	}

	now := s.now()
	l := &domain.Lead{
		SellerID:     in.SellerID,
		ListingTitle: title,
		Platform:     platform,
		BuyerName:    strings.TrimSpace(in.BuyerName),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateLead(ctx, s.DB, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a lead; a non-empty sellerID must own it.
func (s *LeadService) Get(ctx context.Context, sellerID, id string) (*domain.Lead, error) {
	ctx, span := leadTracer().Start(ctx, "Get",
		trace.WithAttributes(attribute.String("lead.id", id)),
	)
	defer span.End()

	return s.owned(ctx, s.DB, sellerID, id)
}

func (s *LeadService) owned(ctx context.Context, db *gorm.DB, sellerID, id string) (*domain.Lead, error) {
	l, err := repo.GetLead(ctx, db, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	if sellerID != "" && l.SellerID != sellerID {
		return nil, ErrLeadNotFound
	}
	return l, nil
}

// ListPage returns a page of the seller's leads, optionally filtered by
// status. It applies defaults for invalid page/pageSize and returns the total.
func (s *LeadService) ListPage(ctx context.Context, sellerID, status string, page, pageSize int) ([]domain.Lead, int64, error) {
	ctx, span := leadTracer().Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("seller.id", sellerID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !domain.IsLeadStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidLead, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountLeads(ctx, s.DB, sellerID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Lead{}, 0, nil
	}
	items, err := repo.ListLeadsPage(ctx, s.DB, sellerID, status, offset, pageSize)
	return items, total, err
}

// Update applies patch to a lead. HumanReplied=true stamps HumanRepliedAt
// (once); false clears it.
func (s *LeadService) Update(ctx context.Context, sellerID, id string, patch domain.LeadPatch) (*domain.Lead, error) {
	ctx, span := leadTracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("lead.id", id)),
	)
	defer span.End()

	l, err := s.owned(ctx, s.DB, sellerID, id)
	if err != nil {
		return nil, err
	}
	if patch.ListingTitle != nil {
		t := strings.TrimSpace(*patch.ListingTitle)
		if t == "" {
			return nil, fmt.Errorf("%w: listingTitle must not be blank", ErrInvalidLead)
		}
		l.ListingTitle = t
	}
	if patch.Platform != nil {
		p := strings.ToLower(strings.TrimSpace(*patch.Platform))
		if !domain.IsSupportedPlatform(p) {
			return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidLead, *patch.Platform)
		}
		l.Platform = p
	}
	if patch.BuyerName != nil {
		l.BuyerName = strings.TrimSpace(*patch.BuyerName)
	}
	if patch.Status != nil {
		if !domain.IsLeadStatus(*patch.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidLead, *patch.Status)
		}
		l.Status = *patch.Status
	}
	if patch.LastMessage != nil {
		l.LastMessage = *patch.LastMessage
	}
	now := s.now()
	if patch.HumanReplied != nil {
		switch {
		case *patch.HumanReplied && l.HumanRepliedAt == nil:
			l.HumanRepliedAt = &now
		case !*patch.HumanReplied:
			l.HumanRepliedAt = nil
		}
	}
	if now.After(l.UpdatedAt) {
		l.UpdatedAt = now
	}
	if err := repo.SaveLead(ctx, s.DB, l); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return l, nil
}

// Delete soft-deletes a lead. Its response history is kept.
func (s *LeadService) Delete(ctx context.Context, sellerID, id string) error {
	ctx, span := leadTracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("lead.id", id)),
	)
	defer span.End()

	if _, err := s.owned(ctx, s.DB, sellerID, id); err != nil {
		return err
	}
	if err := repo.DeleteLead(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrLeadNotFound
		}
		return err
	}
	return nil
}

// History returns the automated responses recorded for a lead, oldest first.
func (s *LeadService) History(ctx context.Context, sellerID, leadID string) ([]domain.ResponseEvent, error) {
	ctx, span := leadTracer().Start(ctx, "History",
		trace.WithAttributes(attribute.String("lead.id", leadID)),
	)
	defer span.End()

	if _, err := s.owned(ctx, s.DB, sellerID, leadID); err != nil {
		return nil, err
	}
	return repo.ListLeadEvents(ctx, s.DB, leadID)
}

// Preview evaluates text against the seller's rules in the context of a lead
// without recording anything.
func (s *LeadService) Preview(ctx context.Context, sellerID, leadID, text string) (*InquiryResult, error) {
	return s.inquiry(ctx, sellerID, leadID, text, time.Time{}, true)
}

// Inquiry processes a buyer message for a lead. When a rule fires, a
// ResponseEvent is recorded and the rule's usage count incremented in the
// same transaction that stores the lead's last message. A zero receivedAt
// means now.
func (s *LeadService) Inquiry(ctx context.Context, sellerID, leadID, text string, receivedAt time.Time) (*InquiryResult, error) {
	return s.inquiry(ctx, sellerID, leadID, text, receivedAt, false)
}

func (s *LeadService) inquiry(ctx context.Context, sellerID, leadID, text string, receivedAt time.Time, dryRun bool) (*InquiryResult, error) {
	ctx, span := leadTracer().Start(ctx, "Inquiry",
		trace.WithAttributes(
			attribute.String("lead.id", leadID),
			attribute.Bool("dry_run", dryRun),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInquiry
	}
	lead, err := s.owned(ctx, s.DB, sellerID, leadID)
	if err != nil {
		return nil, err
	}
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	in := matcher.Inquiry{Text: text, LeadID: lead.ID, Platform: lead.Platform, ReceivedAt: receivedAt}
	d, err := s.Rules.Evaluate(ctx, lead.SellerID, in, lead.HumanRepliedAt != nil)
	if err != nil {
		return nil, err
	}
	res := &InquiryResult{Lead: lead, Decision: d}
	span.SetAttributes(attribute.String("match.reason", string(d.Reason)))
	if dryRun {
		return res, nil
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if d.Fired {
			ev := &domain.ResponseEvent{
				SellerID:  lead.SellerID,
				RuleID:    d.Rule.ID,
				LeadID:    lead.ID,
				Platform:  lead.Platform,
				Inquiry:   text,
				Response:  d.Response,
				CreatedAt: receivedAt,
			}
			if err := repo.CreateResponseEvent(ctx, tx, ev); err != nil {
				return err
			}
			if err := repo.IncrementRuleUsage(ctx, tx, d.Rule.ID, s.now()); err != nil {
				return err
			}
			res.Event = ev
			d.Rule.UsageCount++
		}
		lead.LastMessage = text
		if receivedAt.After(lead.UpdatedAt) {
			lead.UpdatedAt = receivedAt
		}
		return repo.SaveLead(ctx, tx, lead)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case d.Fired:
		observability.ResponsesFired.WithLabelValues(lead.Platform).Inc()
	case d.Matched:
		observability.ResponsesBlocked.WithLabelValues(string(d.Reason)).Inc()
	}
	return res, nil
}
