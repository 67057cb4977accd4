// Package domain defines the persistence models for auto-response rules,
// leads, and response history. These types are mapped with GORM and form the
// core data layer of the listing dashboard.
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Supported marketplace identifiers.
const (
	PlatformFacebook   = "facebook"
	PlatformOfferUp    = "offerup"
	PlatformCraigslist = "craigslist"
)

// AllPlatforms returns every supported marketplace in display order. A fresh
// slice is returned on each call so callers may keep or mutate it.
func AllPlatforms() []string {
	return []string{PlatformFacebook, PlatformOfferUp, PlatformCraigslist}
}

// IsSupportedPlatform reports whether p names a supported marketplace.
// Comparison is case-insensitive.
func IsSupportedPlatform(p string) bool {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PlatformFacebook, PlatformOfferUp, PlatformCraigslist:
		return true
	}
	return false
}

// Conditions is the firing policy attached to a rule.
//
// Fields:
//   - TimeWindow: minutes during which the rule will not fire again for the same lead.
//   - MaxResponses: cap on automated responses of the rule per lead (0 = unlimited).
//   - SkipIfReplied: suppress the rule once a human has replied to the lead.
//   - MinInquiryLength: minimum inquiry length in runes.
type Conditions struct {
	TimeWindow       int  `json:"timeWindow"       gorm:"not null"`
	MaxResponses     int  `json:"maxResponses"     gorm:"not null"`
	SkipIfReplied    bool `json:"skipIfReplied"    gorm:"not null"`
	MinInquiryLength int  `json:"minInquiryLength" gorm:"not null"`
}

// DefaultConditions is the policy applied to seeded rules and to any
// condition field a caller leaves out on create.
func DefaultConditions() Conditions {
	return Conditions{
		TimeWindow:       60,
		MaxResponses:     1,
		SkipIfReplied:    true,
		MinInquiryLength: 5,
	}
}

// AutoResponseRule is an inquiry-triggered canned response owned by a seller.
//
// Fields:
//   - ID: stable identifier; UUID for created rules, "rule-<key>-<seller>" for seeded ones.
//   - SellerID: owning seller; indexed, never reassigned.
//   - Triggers / Platforms: JSON-serialized string sets.
//   - Conditions: embedded columns prefixed with cond_.
//   - UsageCount / SuccessRate: persisted exactly as written.
//   - Seq: insertion sequence assigned by the store; immutable, not exposed.
//   - CreatedAt / UpdatedAt: managed by the service layer, not GORM, so that
//     UpdatedAt can be kept monotonic.
type AutoResponseRule struct {
	ID          string     `json:"id"          gorm:"type:varchar(160);primaryKey"`
	Seq         int64      `json:"-"           gorm:"not null;default:0;index"`
	SellerID    string     `json:"sellerId"    gorm:"type:varchar(64);not null;index:idx_seller_rules"`
	Name        string     `json:"name"        gorm:"type:varchar(255);not null"`
	Triggers    []string   `json:"triggers"    gorm:"serializer:json;type:text;not null"`
	Response    string     `json:"response"    gorm:"type:text;not null"`
	Conditions  Conditions `json:"conditions"  gorm:"embedded;embeddedPrefix:cond_"`
	IsActive    bool       `json:"isActive"    gorm:"not null"`
	Priority    int        `json:"priority"    gorm:"not null"`
	Platforms   []string   `json:"platforms"   gorm:"serializer:json;type:text;not null"`
	UsageCount  int        `json:"usageCount"  gorm:"not null"`
	SuccessRate float64    `json:"successRate" gorm:"not null"`
	CreatedAt   time.Time  `json:"createdAt"   gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time  `json:"updatedAt"   gorm:"autoUpdateTime:false"`
}

// TableName returns the database table name for AutoResponseRule.
func (AutoResponseRule) TableName() string { return "auto_response_rules" }

// HasPlatform reports whether the rule applies to platform p.
func (r *AutoResponseRule) HasPlatform(p string) bool {
	p = strings.ToLower(strings.TrimSpace(p))
	for _, x := range r.Platforms {
		if x == p {
			return true
		}
	}
	return false
}

// RuleSeed marks a seller whose default rules were synthesized. Its presence
// keeps seeding to at most once per seller.
type RuleSeed struct {
	SellerID  string    `gorm:"type:varchar(64);primaryKey"`
	Templates int       `gorm:"not null"`
	SeededAt  time.Time `gorm:"not null"`
}

// TableName returns the database table name for RuleSeed.
func (RuleSeed) TableName() string { return "rule_seeds" }

// Lead statuses.
const (
	LeadNew         = "new"
	LeadContacted   = "contacted"
	LeadNegotiating = "negotiating"
	LeadSold        = "sold"
	LeadLost        = "lost"
)

// IsLeadStatus reports whether s is a known lead status.
func IsLeadStatus(s string) bool {
	switch s {
	case LeadNew, LeadContacted, LeadNegotiating, LeadSold, LeadLost:
		return true
	}
	return false
}

// Lead is a buyer conversation about one of the seller's listings. It is the
// conversation key used by the auto-response history.
//
// HumanRepliedAt is set once the seller answers by hand; rules with
// SkipIfReplied stop firing for the lead from then on.
type Lead struct {
	ID             string         `json:"id"                       gorm:"type:char(36);primaryKey"`
	SellerID       string         `json:"sellerId"                 gorm:"type:varchar(64);not null;index:idx_seller_leads"`
	ListingTitle   string         `json:"listingTitle"             gorm:"type:varchar(255);not null"`
	Platform       string         `json:"platform"                 gorm:"type:varchar(32);not null"`
	BuyerName      string         `json:"buyerName"                gorm:"type:varchar(255)"`
	Status         string         `json:"status"                   gorm:"type:varchar(16);not null;default:'new';index"`
	LastMessage    string         `json:"lastMessage"              gorm:"type:text"`
	HumanRepliedAt *time.Time     `json:"humanRepliedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `json:"-"                        gorm:"index"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string { return "leads" }

// ResponseEvent records one automated reply sent for a lead. The history is
// what TimeWindow and MaxResponses are evaluated against.
type ResponseEvent struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	SellerID  string    `json:"sellerId"  gorm:"type:varchar(64);not null;index"`
	RuleID    string    `json:"ruleId"    gorm:"type:varchar(160);not null;index:idx_rule_lead,priority:1"`
	LeadID    string    `json:"leadId"    gorm:"type:char(36);not null;index:idx_rule_lead,priority:2"`
	Platform  string    `json:"platform"  gorm:"type:varchar(32);not null"`
	Inquiry   string    `json:"inquiry"   gorm:"type:text;not null"`
	Response  string    `json:"response"  gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_rule_lead,priority:3"`
}

// TableName returns the database table name for ResponseEvent.
func (ResponseEvent) TableName() string { return "response_events" }
