// Package pricing computes participant prices from a validated ruleset.
//
// The engine is a pure function: it performs no I/O, holds no state and is
// safe for concurrent use. Money is carried as exact decimals and rounded to
// cents exactly once, on the final price.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"campfees/pkg/domain"
)

// AdultAge is the first age at which family discounts no longer apply.
const AdultAge = 18

var hundred = decimal.NewFromInt(100)

// Facts are the per-participant inputs to a price computation. They are
// derived by the caller from stored participant and event data.
type Facts struct {
	Age                   int
	RoleKey               string
	FamilyPosition        int
	ManualDiscountPercent decimal.Decimal
	ManualDiscountReason  string
	ManualPriceOverride   *decimal.Decimal
}

// NewFacts returns facts for a participant of the given age with no role,
// first family position and no manual inputs.
func NewFacts(age int) Facts {
	return Facts{Age: age, FamilyPosition: 1}
}

// Breakdown explains how a final price was derived. Intermediate amounts keep
// full precision; only FinalPrice is rounded.
type Breakdown struct {
	BasePrice                decimal.Decimal `json:"base_price"`
	AgeGroup                 string          `json:"age_group,omitempty"`
	AgeGroupMatched          bool            `json:"age_group_matched"`
	RoleKey                  string          `json:"role_key,omitempty"`
	RoleDiscountPercent      decimal.Decimal `json:"role_discount_percent"`
	RoleDiscountAmount       decimal.Decimal `json:"role_discount_amount"`
	PriceAfterRoleDiscount   decimal.Decimal `json:"price_after_role_discount"`
	FamilyDiscountPercent    decimal.Decimal `json:"family_discount_percent"`
	FamilyDiscountAmount     decimal.Decimal `json:"family_discount_amount"`
	PriceAfterFamilyDiscount decimal.Decimal `json:"price_after_family_discount"`
	ManualDiscountPercent    decimal.Decimal `json:"manual_discount_percent"`
	ManualDiscountAmount     decimal.Decimal `json:"manual_discount_amount"`
	ManualPriceOverride      bool            `json:"manual_price_override"`
	FinalPrice               decimal.Decimal `json:"final_price"`
	HasDiscounts             bool            `json:"has_discounts"`
	DiscountReasons          []string        `json:"discount_reasons"`
}

// ComputePrice prices one participant against rs.
//
// A manual override short-circuits everything else. Otherwise the base price
// comes from the first age group containing the age (zero when none does),
// role and family percentages are both taken off that same base price, the
// manual percentage applies on top of the result, and the final value is
// rounded half away from zero to cents.
func ComputePrice(facts Facts, rs domain.Ruleset) Breakdown {
	if facts.ManualPriceOverride != nil {
		return overrideBreakdown(facts)
	}

	var b Breakdown
	if group, _, ok := rs.AgeGroupFor(facts.Age); ok {
		b.BasePrice = group.Price
		b.AgeGroup = group.Name
		b.AgeGroupMatched = true
	}

	if key, discount, ok := rs.RoleDiscount(facts.RoleKey); ok {
		b.RoleKey = key
		b.RoleDiscountPercent = discount.DiscountPercent
	}

	if fd := rs.FamilyDiscount; fd != nil && fd.Enabled && facts.Age < AdultAge {
		b.FamilyDiscountPercent = fd.PercentFor(facts.FamilyPosition)
	}

	b.RoleDiscountAmount = percentOf(b.BasePrice, b.RoleDiscountPercent)
	b.FamilyDiscountAmount = percentOf(b.BasePrice, b.FamilyDiscountPercent)
	b.PriceAfterRoleDiscount = b.BasePrice.Sub(b.RoleDiscountAmount)
	b.PriceAfterFamilyDiscount = b.PriceAfterRoleDiscount.Sub(b.FamilyDiscountAmount)

	b.ManualDiscountPercent = facts.ManualDiscountPercent
	b.ManualDiscountAmount = percentOf(b.PriceAfterFamilyDiscount, b.ManualDiscountPercent)
	b.FinalPrice = b.PriceAfterFamilyDiscount.Sub(b.ManualDiscountAmount).Round(2)

	if b.RoleDiscountPercent.IsPositive() {
		b.DiscountReasons = append(b.DiscountReasons,
			fmt.Sprintf("Role discount (%s): %s%%", b.RoleKey, b.RoleDiscountPercent.String()))
	}
	if b.FamilyDiscountPercent.IsPositive() {
		b.DiscountReasons = append(b.DiscountReasons,
			fmt.Sprintf("Family discount (%s child): %s%%", ordinal(facts.FamilyPosition), b.FamilyDiscountPercent.String()))
	}
	if b.ManualDiscountPercent.IsPositive() {
		reason := fmt.Sprintf("Additional discount: %s%%", b.ManualDiscountPercent.String())
		if facts.ManualDiscountReason != "" {
			reason += fmt.Sprintf(" (%s)", facts.ManualDiscountReason)
		}
		b.DiscountReasons = append(b.DiscountReasons, reason)
	}
	b.HasDiscounts = len(b.DiscountReasons) > 0
	return b
}

func overrideBreakdown(facts Facts) Breakdown {
	price := *facts.ManualPriceOverride
	reasons := []string{fmt.Sprintf("Manual price: %s €", price.StringFixed(2))}
	if facts.ManualDiscountReason != "" {
		reasons = append(reasons, "Reason: "+facts.ManualDiscountReason)
	}
	return Breakdown{
		BasePrice:                price,
		PriceAfterRoleDiscount:   price,
		PriceAfterFamilyDiscount: price,
		ManualPriceOverride:      true,
		FinalPrice:               price,
		HasDiscounts:             true,
		DiscountReasons:          reasons,
	}
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	if percent.IsZero() || amount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(percent).Div(hundred)
}

func ordinal(position int) string {
	switch position {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	default:
		return "3rd+"
	}
}
