package ruleset

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"campfees/pkg/domain"
)

// Decode converts a document into a typed ruleset. The document is validated
// first; any value of the wrong type is reported as a *ValidationError naming
// the offending field. Identity, event binding and activation state are left
// for the caller.
func Decode(doc Document) (domain.Ruleset, error) {
	if verr := validate(doc); verr != nil {
		return domain.Ruleset{}, verr
	}

	var rs domain.Ruleset
	var err error
	if rs.Name, err = stringField(doc, "name"); err != nil {
		return domain.Ruleset{}, err
	}
	if rs.Type, err = stringField(doc, "type"); err != nil {
		return domain.Ruleset{}, err
	}
	if rs.Description, err = stringField(doc, "description"); err != nil {
		return domain.Ruleset{}, err
	}
	rs.ValidFrom, _ = parseDate(doc["valid_from"])
	rs.ValidUntil, _ = parseDate(doc["valid_until"])

	groups := doc["age_groups"].([]any)
	rs.AgeGroups = make([]domain.AgeGroup, 0, len(groups))
	for i, raw := range groups {
		group, err := decodeAgeGroup(raw.(map[string]any), i)
		if err != nil {
			return domain.Ruleset{}, err
		}
		rs.AgeGroups = append(rs.AgeGroups, group)
	}

	if raw, ok := doc["role_discounts"]; ok && raw != nil {
		roles, ok := asMap(raw)
		if !ok {
			return domain.Ruleset{}, &ValidationError{Field: "role_discounts", Message: "must be a mapping of role keys"}
		}
		rs.RoleDiscounts = make(map[string]domain.RoleDiscount, len(roles))
		for key, entry := range roles {
			d, err := decodeRoleDiscount(key, entry)
			if err != nil {
				return domain.Ruleset{}, err
			}
			rs.RoleDiscounts[key] = d
		}
	}

	if raw, ok := doc["family_discount"]; ok && raw != nil {
		fd, err := decodeFamilyDiscount(raw)
		if err != nil {
			return domain.Ruleset{}, err
		}
		rs.FamilyDiscount = fd
	}
	return rs, nil
}

// Load parses, validates and decodes raw bytes in one step. The parsed
// document is returned alongside the ruleset so callers can keep the original.
func Load(raw []byte) (domain.Ruleset, Document, error) {
	doc, err := Parse(raw)
	if err != nil {
		return domain.Ruleset{}, nil, err
	}
	rs, err := Decode(doc)
	if err != nil {
		return domain.Ruleset{}, doc, err
	}
	return rs, doc, nil
}

func decodeAgeGroup(m map[string]any, index int) (domain.AgeGroup, error) {
	field := func(name string) string { return fmt.Sprintf("age_groups[%d].%s", index, name) }
	var g domain.AgeGroup
	var ok bool
	if g.MinAge, ok = asInt(m["min_age"]); !ok {
		return g, &ValidationError{Field: field("min_age"), Message: "must be an integer"}
	}
	if g.MaxAge, ok = asInt(m["max_age"]); !ok {
		return g, &ValidationError{Field: field("max_age"), Message: "must be an integer"}
	}
	if g.Price, ok = asDecimal(m["price"]); !ok {
		return g, &ValidationError{Field: field("price"), Message: "must be a number"}
	}
	if name, present := m["name"]; present && name != nil {
		g.Name = fmt.Sprint(name)
	}
	return g, nil
}

func decodeRoleDiscount(key string, raw any) (domain.RoleDiscount, error) {
	field := func(name string) string { return fmt.Sprintf("role_discounts.%s.%s", key, name) }
	var d domain.RoleDiscount
	m, ok := asMap(raw)
	if !ok {
		return d, &ValidationError{Field: "role_discounts." + key, Message: "must be a mapping"}
	}
	if v, present := m["discount_percent"]; present && v != nil {
		if d.DiscountPercent, ok = asDecimal(v); !ok {
			return d, &ValidationError{Field: field("discount_percent"), Message: "must be a number"}
		}
	} else {
		d.Omitted = append(d.Omitted, "discount_percent")
	}
	if v, present := m["max_count"]; present && v != nil {
		n, ok := asInt(v)
		if !ok {
			return d, &ValidationError{Field: field("max_count"), Message: "must be an integer"}
		}
		d.MaxCount = &n
	}
	if v, present := m["subsidy_eligible"]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			return d, &ValidationError{Field: field("subsidy_eligible"), Message: "must be a boolean"}
		}
		d.SubsidyEligible = &b
	}
	if v, present := m["description"]; present && v != nil {
		d.Description = fmt.Sprint(v)
	}
	return d, nil
}

func decodeFamilyDiscount(raw any) (*domain.FamilyDiscount, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, &ValidationError{Field: "family_discount", Message: "must be a mapping"}
	}
	fd := &domain.FamilyDiscount{}
	if v, present := m["enabled"]; present && v != nil {
		if fd.Enabled, ok = v.(bool); !ok {
			return nil, &ValidationError{Field: "family_discount.enabled", Message: "must be a boolean"}
		}
	} else {
		fd.Omitted = append(fd.Omitted, "enabled")
	}
	percent := func(name string, target *decimal.Decimal) error {
		v, present := m[name]
		if !present || v == nil {
			fd.Omitted = append(fd.Omitted, name)
			return nil
		}
		d, ok := asDecimal(v)
		if !ok {
			return &ValidationError{Field: "family_discount." + name, Message: "must be a number"}
		}
		*target = d
		return nil
	}
	if v, present := m["first_child_percent"]; present && v != nil {
		var first decimal.Decimal
		if err := percent("first_child_percent", &first); err != nil {
			return nil, err
		}
		fd.FirstChildPercent = &first
	}
	if err := percent("second_child_percent", &fd.SecondChildPercent); err != nil {
		return nil, err
	}
	if err := percent("third_plus_child_percent", &fd.ThirdPlusChildPercent); err != nil {
		return nil, err
	}
	return fd, nil
}

func stringField(doc Document, key string) (string, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(t), nil
	default:
		return "", &ValidationError{Field: key, Message: "must be a string"}
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		if t < math.MinInt || t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	case uint64:
		if t > math.MaxInt {
			return 0, false
		}
		return int(t), true
	case float64:
		// float64(math.MaxInt) rounds up to a power of two, hence >=.
		if t != math.Trunc(t) || t < math.MinInt || t >= math.MaxInt {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(t), 0), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
