package pricing

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"campfees/pkg/domain"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func standardRuleset() domain.Ruleset {
	return domain.Ruleset{
		Name: "Sommer",
		AgeGroups: []domain.AgeGroup{
			{Name: "Kinder", MinAge: 6, MaxAge: 11, Price: d("150")},
			{Name: "Jugendliche", MinAge: 12, MaxAge: 17, Price: d("180")},
			{Name: "Erwachsene", MinAge: 18, MaxAge: 999, Price: d("220")},
		},
		RoleDiscounts: map[string]domain.RoleDiscount{
			"betreuer":   {DiscountPercent: d("50")},
			"Küchenteam": {DiscountPercent: d("100")},
		},
		FamilyDiscount: &domain.FamilyDiscount{
			Enabled:               true,
			SecondChildPercent:    d("10"),
			ThirdPlusChildPercent: d("20"),
		},
	}
}

func assertMoney(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestComputePriceBaseBracketOnly(t *testing.T) {
	rs := standardRuleset()
	rs.FamilyDiscount = nil
	for age, want := range map[int]string{6: "150", 11: "150", 12: "180", 17: "180", 18: "220", 999: "220"} {
		b := ComputePrice(NewFacts(age), rs)
		assertMoney(t, "final", b.FinalPrice, want)
		if b.HasDiscounts || len(b.DiscountReasons) != 0 {
			t.Fatalf("age %d: expected no discounts, got %v", age, b.DiscountReasons)
		}
	}
}

func TestComputePriceScenarioAdultWithRole(t *testing.T) {
	facts := NewFacts(30)
	facts.RoleKey = "betreuer"
	facts.FamilyPosition = 3
	b := ComputePrice(facts, standardRuleset())
	assertMoney(t, "base", b.BasePrice, "220")
	assertMoney(t, "role amount", b.RoleDiscountAmount, "110")
	assertMoney(t, "family percent", b.FamilyDiscountPercent, "0")
	assertMoney(t, "final", b.FinalPrice, "110.00")
	if want := []string{"Role discount (betreuer): 50%"}; !reflect.DeepEqual(b.DiscountReasons, want) {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}
}

func TestComputePriceScenarioSecondChild(t *testing.T) {
	facts := NewFacts(8)
	facts.FamilyPosition = 2
	b := ComputePrice(facts, standardRuleset())
	assertMoney(t, "family amount", b.FamilyDiscountAmount, "15")
	assertMoney(t, "final", b.FinalPrice, "135.00")
	if want := []string{"Family discount (2nd child): 10%"}; !reflect.DeepEqual(b.DiscountReasons, want) {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}
}

func TestComputePriceScenarioAllDiscounts(t *testing.T) {
	facts := NewFacts(8)
	facts.RoleKey = "betreuer"
	facts.FamilyPosition = 2
	facts.ManualDiscountPercent = d("5")
	facts.ManualDiscountReason = "Geschwister"
	b := ComputePrice(facts, standardRuleset())
	assertMoney(t, "role amount", b.RoleDiscountAmount, "75")
	assertMoney(t, "after role", b.PriceAfterRoleDiscount, "75")
	assertMoney(t, "family amount", b.FamilyDiscountAmount, "15")
	assertMoney(t, "after family", b.PriceAfterFamilyDiscount, "60")
	assertMoney(t, "manual amount", b.ManualDiscountAmount, "3")
	assertMoney(t, "final", b.FinalPrice, "57.00")
	want := []string{
		"Role discount (betreuer): 50%",
		"Family discount (2nd child): 10%",
		"Additional discount: 5% (Geschwister)",
	}
	if !reflect.DeepEqual(b.DiscountReasons, want) {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}
	if !b.HasDiscounts {
		t.Fatalf("expected has discounts")
	}
}

func TestComputePriceDiscountsDoNotCompound(t *testing.T) {
	rs := domain.Ruleset{
		AgeGroups:      []domain.AgeGroup{{MinAge: 0, MaxAge: 17, Price: d("100")}},
		RoleDiscounts:  map[string]domain.RoleDiscount{"team": {DiscountPercent: d("50")}},
		FamilyDiscount: &domain.FamilyDiscount{Enabled: true, SecondChildPercent: d("20"), ThirdPlusChildPercent: d("20")},
	}
	facts := NewFacts(10)
	facts.RoleKey = "team"
	facts.FamilyPosition = 2
	b := ComputePrice(facts, rs)
	assertMoney(t, "after family", b.PriceAfterFamilyDiscount, "30")
	assertMoney(t, "final", b.FinalPrice, "30")
}

func TestComputePriceOverrideBypassesRuleset(t *testing.T) {
	override := d("100")
	facts := NewFacts(8)
	facts.RoleKey = "betreuer"
	facts.FamilyPosition = 2
	facts.ManualDiscountPercent = d("50")
	facts.ManualPriceOverride = &override
	facts.ManualDiscountReason = "Sonderabsprache"
	b := ComputePrice(facts, standardRuleset())
	assertMoney(t, "final", b.FinalPrice, "100")
	if !b.HasDiscounts || !b.ManualPriceOverride {
		t.Fatalf("expected override flagged as discount")
	}
	want := []string{"Manual price: 100.00 €", "Reason: Sonderabsprache"}
	if !reflect.DeepEqual(b.DiscountReasons, want) {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}

	zero := decimal.Zero
	facts = NewFacts(-1)
	facts.ManualPriceOverride = &zero
	b = ComputePrice(facts, domain.Ruleset{})
	assertMoney(t, "zero override", b.FinalPrice, "0")
	if len(b.DiscountReasons) != 1 || b.DiscountReasons[0] != "Manual price: 0.00 €" {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}
}

func TestComputePriceAdultsExcludedFromFamilyDiscount(t *testing.T) {
	facts := NewFacts(18)
	facts.FamilyPosition = 2
	b := ComputePrice(facts, standardRuleset())
	assertMoney(t, "family percent", b.FamilyDiscountPercent, "0")
	assertMoney(t, "final", b.FinalPrice, "220")
}

func TestComputePriceFamilyPositions(t *testing.T) {
	rs := standardRuleset()
	cases := []struct {
		position int
		percent  string
		reason   string
	}{
		{position: 1, percent: "0"},
		{position: 2, percent: "10", reason: "Family discount (2nd child): 10%"},
		{position: 3, percent: "20", reason: "Family discount (3rd+ child): 20%"},
		{position: 9, percent: "20", reason: "Family discount (3rd+ child): 20%"},
		{position: 0, percent: "20", reason: "Family discount (3rd+ child): 20%"},
		{position: -4, percent: "20", reason: "Family discount (3rd+ child): 20%"},
	}
	for _, tc := range cases {
		facts := NewFacts(10)
		facts.FamilyPosition = tc.position
		b := ComputePrice(facts, rs)
		assertMoney(t, "family percent", b.FamilyDiscountPercent, tc.percent)
		if tc.reason == "" && len(b.DiscountReasons) != 0 {
			t.Fatalf("position %d: expected no reasons, got %v", tc.position, b.DiscountReasons)
		}
		if tc.reason != "" && (len(b.DiscountReasons) != 1 || b.DiscountReasons[0] != tc.reason) {
			t.Fatalf("position %d: unexpected reasons %v", tc.position, b.DiscountReasons)
		}
	}

	first := d("5")
	rs.FamilyDiscount.FirstChildPercent = &first
	b := ComputePrice(NewFacts(10), rs)
	assertMoney(t, "first child", b.FinalPrice, "142.50")
	if b.DiscountReasons[0] != "Family discount (1st child): 5%" {
		t.Fatalf("unexpected reason %v", b.DiscountReasons)
	}

	rs.FamilyDiscount.Enabled = false
	facts := NewFacts(10)
	facts.FamilyPosition = 3
	if b := ComputePrice(facts, rs); !b.FamilyDiscountPercent.IsZero() {
		t.Fatalf("expected disabled family discount to be ignored")
	}
}

func TestComputePriceNoMatchingBracket(t *testing.T) {
	for _, age := range []int{5, -3, 1000} {
		facts := NewFacts(age)
		facts.RoleKey = "betreuer"
		b := ComputePrice(facts, standardRuleset())
		if b.AgeGroupMatched {
			t.Fatalf("age %d: expected no bracket", age)
		}
		assertMoney(t, "final", b.FinalPrice, "0")
		assertMoney(t, "role amount", b.RoleDiscountAmount, "0")
	}
}

func TestComputePriceFirstMatchWins(t *testing.T) {
	rs := domain.Ruleset{AgeGroups: []domain.AgeGroup{
		{MinAge: 0, MaxAge: 12, Price: d("100")},
		{MinAge: 10, MaxAge: 12, Price: d("50")},
	}}
	b := ComputePrice(NewFacts(11), rs)
	assertMoney(t, "final", b.FinalPrice, "100")
}

func TestComputePriceRoleKeyCaseInsensitive(t *testing.T) {
	for _, key := range []string{"küchenteam", "KÜCHENTEAM", "Küchenteam"} {
		facts := NewFacts(40)
		facts.RoleKey = key
		b := ComputePrice(facts, standardRuleset())
		if b.RoleKey != "Küchenteam" {
			t.Fatalf("role %q: expected Küchenteam match, got %q", key, b.RoleKey)
		}
		assertMoney(t, "final", b.FinalPrice, "0")
	}
	facts := NewFacts(40)
	facts.RoleKey = "teilnehmer"
	if b := ComputePrice(facts, standardRuleset()); !b.RoleDiscountPercent.IsZero() || b.RoleKey != "" {
		t.Fatalf("unknown role must not discount")
	}
}

func TestComputePriceRoundsOnceAtTheEnd(t *testing.T) {
	rs := domain.Ruleset{
		AgeGroups:     []domain.AgeGroup{{MinAge: 0, MaxAge: 99, Price: d("99.99")}},
		RoleDiscounts: map[string]domain.RoleDiscount{"team": {DiscountPercent: d("33")}},
	}
	facts := NewFacts(30)
	facts.RoleKey = "team"
	facts.ManualDiscountPercent = d("7.5")
	b := ComputePrice(facts, rs)
	// 99.99 - 32.9967 = 66.9933; minus 7.5% = 61.9688025
	assertMoney(t, "after family", b.PriceAfterFamilyDiscount, "66.9933")
	assertMoney(t, "manual amount", b.ManualDiscountAmount, "5.0244975")
	assertMoney(t, "final", b.FinalPrice, "61.97")
	if b.DiscountReasons[1] != "Additional discount: 7.5%" {
		t.Fatalf("unexpected reasons %v", b.DiscountReasons)
	}

	half := domain.Ruleset{AgeGroups: []domain.AgeGroup{{MinAge: 0, MaxAge: 99, Price: d("10.005")}}}
	assertMoney(t, "half up", ComputePrice(NewFacts(1), half).FinalPrice, "10.01")
}
