// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by campfees.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityEvent identifies a multi-day group event.
	EntityEvent EntityType = "event"
	// EntityRuleset identifies a pricing ruleset record.
	EntityRuleset EntityType = "ruleset"
	// EntityParticipant identifies a participant record.
	EntityParticipant EntityType = "participant"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// DateLayout is the calendar date format used by ruleset documents.
const DateLayout = "2006-01-02"

// Base contains common fields for persisted entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a multi-day group event that participants register for.
type Event struct {
	Base
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// AgeGroup is an inclusive age bracket with its base price.
type AgeGroup struct {
	Name   string          `json:"name,omitempty"`
	MinAge int             `json:"min_age"`
	MaxAge int             `json:"max_age"`
	Price  decimal.Decimal `json:"price"`
}

// Contains reports whether age falls inside the bracket, both ends inclusive.
func (g AgeGroup) Contains(age int) bool {
	return g.MinAge <= age && age <= g.MaxAge
}

// RoleDiscount is the percentage reduction granted to a role.
// MaxCount and SubsidyEligible are informational and never change a price.
type RoleDiscount struct {
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MaxCount        *int            `json:"max_count,omitempty"`
	SubsidyEligible *bool           `json:"subsidy_eligible,omitempty"`
	Description     string          `json:"description,omitempty"`
	// Omitted lists document keys that were absent and read as zero values.
	Omitted         []string        `json:"omitted,omitempty"`
}

// Defaulted reports whether key was absent from the source document.
func (d RoleDiscount) Defaulted(key string) bool { return contains(d.Omitted, key) }

// FamilyDiscount configures birth-order discounts for minors.
type FamilyDiscount struct {
	Enabled               bool             `json:"enabled"`
	FirstChildPercent     *decimal.Decimal `json:"first_child_percent,omitempty"`
	SecondChildPercent    decimal.Decimal  `json:"second_child_percent"`
	ThirdPlusChildPercent decimal.Decimal  `json:"third_plus_child_percent"`
	// Omitted lists document keys that were absent and read as zero values.
	Omitted               []string         `json:"omitted,omitempty"`
}

// Defaulted reports whether key was absent from the source document.
func (f FamilyDiscount) Defaulted(key string) bool { return contains(f.Omitted, key) }

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// PercentFor returns the discount for a 1-based family position. Positions
// below one fall into the third-plus bucket.
func (f FamilyDiscount) PercentFor(position int) decimal.Decimal {
	switch position {
	case 1:
		if f.FirstChildPercent == nil {
			return decimal.Zero
		}
		return *f.FirstChildPercent
	case 2:
		return f.SecondChildPercent
	default:
		return f.ThirdPlusChildPercent
	}
}

// Ruleset is a versioned, dated pricing configuration for one event.
// At most one ruleset per event has IsActive set; the activation coordinator
// maintains that invariant.
type Ruleset struct {
	Base
	EventID        string                  `json:"event_id"`
	Name           string                  `json:"name"`
	Type           string                  `json:"type"`
	Description    string                  `json:"description,omitempty"`
	ValidFrom      time.Time               `json:"valid_from"`
	ValidUntil     time.Time               `json:"valid_until"`
	AgeGroups      []AgeGroup              `json:"age_groups"`
	RoleDiscounts  map[string]RoleDiscount `json:"role_discounts"`
	FamilyDiscount *FamilyDiscount         `json:"family_discount,omitempty"`
	IsActive       bool                    `json:"is_active"`
	Source         string                  `json:"source,omitempty"`
}

// AgeGroupFor returns the first bracket in document order containing age.
func (r Ruleset) AgeGroupFor(age int) (AgeGroup, int, bool) {
	for i, group := range r.AgeGroups {
		if group.Contains(age) {
			return group, i, true
		}
	}
	return AgeGroup{}, -1, false
}

// CoversDate reports whether day lies within the validity window.
func (r Ruleset) CoversDate(day time.Time) bool {
	d := day.Format(DateLayout)
	return r.ValidFrom.Format(DateLayout) <= d && d <= r.ValidUntil.Format(DateLayout)
}

// Participant is a registration for an event together with the manual
// pricing inputs an operator may set.
type Participant struct {
	Base
	EventID               string           `json:"event_id"`
	FirstName             string           `json:"first_name"`
	LastName              string           `json:"last_name"`
	BirthDate             time.Time        `json:"birth_date"`
	RoleKey               string           `json:"role_key,omitempty"`
	FamilyID              *string          `json:"family_id,omitempty"`
	CalculatedPrice       decimal.Decimal  `json:"calculated_price"`
	ManualPriceOverride   *decimal.Decimal `json:"manual_price_override,omitempty"`
	ManualDiscountPercent decimal.Decimal  `json:"manual_discount_percent"`
	ManualDiscountReason  string           `json:"manual_discount_reason,omitempty"`
	IsActive              bool             `json:"is_active"`
	DeletedAt             *time.Time       `json:"deleted_at,omitempty"`
}

// FinalPrice returns the manual override when present, otherwise the stored
// calculated price.
func (p Participant) FinalPrice() decimal.Decimal {
	if p.ManualPriceOverride != nil {
		return *p.ManualPriceOverride
	}
	return p.CalculatedPrice
}

// Billable reports whether the participant takes part in recalculation.
func (p Participant) Billable() bool {
	return p.IsActive && p.DeletedAt == nil
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
