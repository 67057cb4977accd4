package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrTriggersFormat is returned when triggers are neither a string nor an
// array of strings.
var ErrTriggersFormat = errors.New("triggers must be a string or an array of strings")

// TriggerList is a trigger set as accepted on the wire: either a JSON array
// of strings or a single comma-delimited string. Both forms are normalized
// with NormalizeTriggers.
type TriggerList []string

// UnmarshalJSON accepts `["a","b"]`, `"a, b"` and `null`.
func (t *TriggerList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = nil
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = NormalizeTriggers(strings.Split(s, ","))
		return nil
	case '[':
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*t = NormalizeTriggers(arr)
		return nil
	}
	return ErrTriggersFormat
}

// NormalizeTriggers trims and lowercases each entry, drops blanks, and removes
// duplicates while keeping first-seen order. It never returns nil.
func NormalizeTriggers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// NormalizePlatforms lowercases and de-duplicates platform identifiers. It
// does not validate them; see IsSupportedPlatform.
func NormalizePlatforms(in []string) []string {
	return NormalizeTriggers(in)
}

// ConditionsPatch overrides individual condition fields. Nil fields keep the
// current (or default) value.
type ConditionsPatch struct {
	TimeWindow       *int  `json:"timeWindow,omitempty"`
	MaxResponses     *int  `json:"maxResponses,omitempty"`
	SkipIfReplied    *bool `json:"skipIfReplied,omitempty"`
	MinInquiryLength *int  `json:"minInquiryLength,omitempty"`
}

// ApplyTo returns c with every supplied field replaced.
func (p *ConditionsPatch) ApplyTo(c Conditions) Conditions {
	if p == nil {
		return c
	}
	if p.TimeWindow != nil {
		c.TimeWindow = *p.TimeWindow
	}
	if p.MaxResponses != nil {
		c.MaxResponses = *p.MaxResponses
	}
	if p.SkipIfReplied != nil {
		c.SkipIfReplied = *p.SkipIfReplied
	}
	if p.MinInquiryLength != nil {
		c.MinInquiryLength = *p.MinInquiryLength
	}
	return c
}

// RulePatch is a partial update of an AutoResponseRule. Only non-nil fields
// change; ID, SellerID and CreatedAt are deliberately absent.
type RulePatch struct {
	Name        *string          `json:"name,omitempty"`
	Triggers    *TriggerList     `json:"triggers,omitempty"`
	Response    *string          `json:"response,omitempty"`
	Conditions  *ConditionsPatch `json:"conditions,omitempty"`
	IsActive    *bool            `json:"isActive,omitempty"`
	Priority    *int             `json:"priority,omitempty"`
	Platforms   *[]string        `json:"platforms,omitempty"`
	UsageCount  *int             `json:"usageCount,omitempty"`
	SuccessRate *float64         `json:"successRate,omitempty"`
}

// Apply merges the patch into r. Timestamps are left to the caller.
func (p RulePatch) Apply(r *AutoResponseRule) {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Triggers != nil {
		r.Triggers = NormalizeTriggers(*p.Triggers)
	}
	if p.Response != nil {
		r.Response = strings.TrimSpace(*p.Response)
	}
	if p.Conditions != nil {
		r.Conditions = p.Conditions.ApplyTo(r.Conditions)
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Platforms != nil {
		r.Platforms = NormalizePlatforms(*p.Platforms)
	}
	if p.UsageCount != nil {
		r.UsageCount = *p.UsageCount
	}
	if p.SuccessRate != nil {
		r.SuccessRate = *p.SuccessRate
	}
}

// LeadPatch is a partial update of a Lead. HumanReplied=true stamps
// HumanRepliedAt; false clears it.
type LeadPatch struct {
	ListingTitle *string `json:"listingTitle,omitempty"`
	Platform     *string `json:"platform,omitempty"`
	BuyerName    *string `json:"buyerName,omitempty"`
	Status       *string `json:"status,omitempty"`
	LastMessage  *string `json:"lastMessage,omitempty"`
	HumanReplied *bool   `json:"humanReplied,omitempty"`
}
