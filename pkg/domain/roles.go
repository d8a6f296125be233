package domain

import (
	"sort"

	"golang.org/x/text/cases"
)

// NormalizeRoleKey folds a role key so that keys differing only in case
// (including non-ASCII letters such as "Küchenteam"/"küchenteam") compare equal.
func NormalizeRoleKey(key string) string {
	return cases.Fold().String(key)
}

// RoleDiscount looks up the discount for roleKey case-insensitively. An exact
// key match wins; otherwise folded keys are compared in sorted key order so
// the outcome does not depend on map iteration.
func (r Ruleset) RoleDiscount(roleKey string) (string, RoleDiscount, bool) {
	if roleKey == "" || len(r.RoleDiscounts) == 0 {
		return "", RoleDiscount{}, false
	}
	if d, ok := r.RoleDiscounts[roleKey]; ok {
		return roleKey, d, true
	}
	want := NormalizeRoleKey(roleKey)
	keys := make([]string, 0, len(r.RoleDiscounts))
	for k := range r.RoleDiscounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if NormalizeRoleKey(k) == want {
			return k, r.RoleDiscounts[k], true
		}
	}
	return "", RoleDiscount{}, false
}
