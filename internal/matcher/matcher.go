// Package matcher selects the auto-response rule that answers a buyer
// inquiry and decides whether it may fire.
//
//   - No logging and no I/O (callers supply rule sets and history)
//   - Functional options (Option pattern)
//   - Deterministic ordering: priority, then creation time, then id
//   - Stateless after construction, safe for concurrent use
//
// Selection is single-shot: the best-ranked candidate is the only rule
// considered. If its conditions block it, no lower-ranked rule is tried.
package matcher

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tbourn/go-listing-dashboard/internal/domain"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNoMatch       Reason = "no_match"
	ReasonFired         Reason = "fired"
	ReasonSkipIfReplied Reason = "skip_if_replied"
	ReasonMaxResponses  Reason = "max_responses"
	ReasonTimeWindow    Reason = "time_window"
)

// Inquiry is an incoming buyer message.
type Inquiry struct {
	Text       string
	LeadID     string
	Platform   string
	ReceivedAt time.Time
}

// History is the prior activity of one rule for one lead.
type History struct {
	Count    int64
	LastSent *time.Time
}

// HistoryFunc loads the history of ruleID for the inquiry's lead.
type HistoryFunc func(ruleID string) (History, error)

// Decision is the outcome of Match.
type Decision struct {
	Matched    bool                     `json:"matched"`
	Fired      bool                     `json:"fired"`
	Rule       *domain.AutoResponseRule `json:"rule,omitempty"`
	Response   string                   `json:"response,omitempty"`
	Reason     Reason                   `json:"reason"`
	Candidates []string                 `json:"candidates"`
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	maxCandidates int
}

func defaultConfig() config {
	return config{maxCandidates: 0}
}

// WithMaxCandidates caps how many candidate ids a Decision reports.
func WithMaxCandidates(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxCandidates = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

// Matcher evaluates inquiries against rule sets.
type Matcher struct {
	cfg config
}

// New returns a Matcher configured by opts.
func New(opts ...Option) *Matcher {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Matcher{cfg: cfg}
}

// Candidates returns the rules eligible for in, best first. A rule is eligible
// when it is active, covers the inquiry platform, the trimmed text is at least
// MinInquiryLength runes long, and one of its triggers occurs in the text
// (case-insensitive, whitespace runs in both collapsed to one space).
func (m *Matcher) Candidates(rules []domain.AutoResponseRule, in Inquiry) []domain.AutoResponseRule {
	trimmed := strings.TrimSpace(in.Text)
	n := utf8.RuneCountInString(trimmed)
	lower := strings.ToLower(normalizeWhitespace(trimmed))

	out := make([]domain.AutoResponseRule, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		if !r.IsActive || !r.HasPlatform(in.Platform) {
			continue
		}
		if n < r.Conditions.MinInquiryLength {
			continue
		}
		if !containsAny(lower, r.Triggers) {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority < out[b].Priority
		}
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// Check applies the rule's conditions to the lead state at now and returns
// ReasonFired when the rule may respond.
func Check(c domain.Conditions, h History, humanReplied bool, now time.Time) Reason {
	if c.SkipIfReplied && humanReplied {
		return ReasonSkipIfReplied
	}
	if c.MaxResponses > 0 && h.Count >= int64(c.MaxResponses) {
		return ReasonMaxResponses
	}
	if c.TimeWindow > 0 && h.LastSent != nil {
		window := time.Duration(c.TimeWindow) * time.Minute
		if now.Sub(*h.LastSent) < window {
			return ReasonTimeWindow
		}
	}
	return ReasonFired
}

// Match selects the best candidate for in and checks its conditions. hist is
// consulted only for the selected rule; a nil hist means no prior activity.
func (m *Matcher) Match(rules []domain.AutoResponseRule, in Inquiry, humanReplied bool, hist HistoryFunc) (Decision, error) {
	cands := m.Candidates(rules, in)
	d := Decision{Reason: ReasonNoMatch, Candidates: make([]string, 0, len(cands))}
	for i, r := range cands {
		if m.cfg.maxCandidates > 0 && i >= m.cfg.maxCandidates {
			break
		}
		d.Candidates = append(d.Candidates, r.ID)
	}
	if len(cands) == 0 {
		return d, nil
	}

	sel := cands[0]
	d.Matched = true
	d.Rule = &sel

	var h History
	if hist != nil {
		var err error
		if h, err = hist(sel.ID); err != nil {
			return Decision{}, err
		}
	}

	now := in.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.Reason = Check(sel.Conditions, h, humanReplied, now)
	if d.Reason == ReasonFired {
		d.Fired = true
		d.Response = sel.Response
	}
	return d, nil
}

// ----------------------------------------------------------------------------
// Helpers

func containsAny(text string, triggers []string) bool {
	for _, t := range triggers {
		t = strings.ToLower(normalizeWhitespace(strings.TrimSpace(t)))
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
