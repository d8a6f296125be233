package ruleset

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.yaml.in/yaml/v3"

	"campfees/pkg/domain"
)

// Export renders a ruleset back into document form. It is the structural
// inverse of Decode: optional description, role_discounts and family_discount
// are omitted when absent instead of being emitted as null, and keys Decode
// defaulted stay out. Empty descriptions and age group names are dropped.
func Export(rs domain.Ruleset) Document {
	doc := Document{
		"name":        rs.Name,
		"type":        rs.Type,
		"valid_from":  rs.ValidFrom.Format(domain.DateLayout),
		"valid_until": rs.ValidUntil.Format(domain.DateLayout),
	}
	if rs.Description != "" {
		doc["description"] = rs.Description
	}

	groups := make([]any, 0, len(rs.AgeGroups))
	for _, g := range rs.AgeGroups {
		entry := map[string]any{
			"min_age": g.MinAge,
			"max_age": g.MaxAge,
			"price":   numberValue(g.Price),
		}
		if g.Name != "" {
			entry["name"] = g.Name
		}
		groups = append(groups, entry)
	}
	doc["age_groups"] = groups

	if rs.RoleDiscounts != nil {
		roles := make(map[string]any, len(rs.RoleDiscounts))
		for key, d := range rs.RoleDiscounts {
			entry := map[string]any{}
			if !d.Defaulted("discount_percent") {
				entry["discount_percent"] = numberValue(d.DiscountPercent)
			}
			if d.MaxCount != nil {
				entry["max_count"] = *d.MaxCount
			}
			if d.SubsidyEligible != nil {
				entry["subsidy_eligible"] = *d.SubsidyEligible
			}
			if d.Description != "" {
				entry["description"] = d.Description
			}
			roles[key] = entry
		}
		doc["role_discounts"] = roles
	}

	if fd := rs.FamilyDiscount; fd != nil {
		entry := map[string]any{}
		if !fd.Defaulted("enabled") {
			entry["enabled"] = fd.Enabled
		}
		if !fd.Defaulted("second_child_percent") {
			entry["second_child_percent"] = numberValue(fd.SecondChildPercent)
		}
		if !fd.Defaulted("third_plus_child_percent") {
			entry["third_plus_child_percent"] = numberValue(fd.ThirdPlusChildPercent)
		}
		if fd.FirstChildPercent != nil {
			entry["first_child_percent"] = numberValue(*fd.FirstChildPercent)
		}
		doc["family_discount"] = entry
	}
	return doc
}

// numberValue keeps whole amounts as integers so exported documents read the
// way operators write them.
func numberValue(d decimal.Decimal) any {
	if d.IsInteger() {
		return int(d.IntPart())
	}
	return d.InexactFloat64()
}

var (
	topLevelOrder = []string{"name", "type", "description", "valid_from", "valid_until", "age_groups", "role_discounts", "family_discount"}
	ageGroupOrder = []string{"name", "min_age", "max_age", "price"}
	roleOrder     = []string{"discount_percent", "max_count", "subsidy_eligible", "description"}
	familyOrder   = []string{"enabled", "first_child_percent", "second_child_percent", "third_plus_child_percent"}
)

// Marshal serializes a ruleset as YAML with a stable, human-friendly key order.
func Marshal(rs domain.Ruleset) ([]byte, error) {
	root, err := orderedMapping(Export(rs), topLevelOrder, topLevelNode)
	if err != nil {
		return nil, fmt.Errorf("marshal ruleset: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("marshal ruleset: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal ruleset: %w", err)
	}
	return buf.Bytes(), nil
}

type nodeFunc func(key string, v any) (*yaml.Node, error)

func topLevelNode(key string, v any) (*yaml.Node, error) {
	switch key {
	case "age_groups":
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, g := range v.([]any) {
			node, err := orderedMapping(g.(map[string]any), ageGroupOrder, scalarNode)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, node)
		}
		return seq, nil
	case "role_discounts":
		roles := v.(map[string]any)
		keys := make([]string, 0, len(roles))
		for k := range roles {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return orderedMapping(roles, keys, func(_ string, entry any) (*yaml.Node, error) {
			return orderedMapping(entry.(map[string]any), roleOrder, scalarNode)
		})
	case "family_discount":
		return orderedMapping(v.(map[string]any), familyOrder, scalarNode)
	default:
		return scalarNode(key, v)
	}
}

func orderedMapping(m map[string]any, order []string, value nodeFunc) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range order {
		v, ok := m[key]
		if !ok {
			continue
		}
		child, err := value(key, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
	}
	return node, nil
}

func scalarNode(_ string, v any) (*yaml.Node, error) {
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return node, nil
}

// Equivalent reports whether two documents are structurally equal. Numbers
// compare by value, so 150 and 150.0 are the same price. A null value equals
// an absent key, and an unquoted YAML date equals its quoted form.
func Equivalent(a, b Document) bool {
	return equivalentValue(map[string]any(a), map[string]any(b))
}

func equivalentValue(a, b any) bool {
	if da, ok := asDecimal(a); ok && isNumber(a) {
		db, ok := asDecimal(b)
		return ok && isNumber(b) && da.Equal(db)
	}
	if isTime(a) || isTime(b) {
		da, okA := parseDate(a)
		db, okB := parseDate(b)
		return okA && okB && da.Equal(db)
	}
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok {
			return false
		}
		for k, va := range ta {
			if !equivalentValue(va, tb[k]) {
				return false
			}
		}
		for k, vb := range tb {
			if _, seen := ta[k]; !seen && vb != nil {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !equivalentValue(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int64, uint64, float64:
		return true
	default:
		return false
	}
}
