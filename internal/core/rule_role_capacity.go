package core

import (
	"context"
	"fmt"
	"sort"

	"campfees/pkg/domain"
)

// NewRoleCapacityRule returns the warning rule that flags roles held by more
// billable participants than the active ruleset's max_count allows.
func NewRoleCapacityRule() domain.Rule {
	return roleCapacityRule{}
}

type roleCapacityRule struct{}

func (roleCapacityRule) Name() string { return "role_capacity" }

func (roleCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, event := range view.ListEvents() {
		active := view.ActiveRulesets(event.ID)
		if len(active) != 1 {
			continue
		}
		rs := active[0]

		occupancy := make(map[string]int)
		for _, p := range view.ParticipantsForEvent(event.ID) {
			if !p.Billable() {
				continue
			}
			if key, _, ok := rs.RoleDiscount(p.RoleKey); ok {
				occupancy[key]++
			}
		}

		keys := make([]string, 0, len(occupancy))
		for key := range occupancy {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			limit := rs.RoleDiscounts[key].MaxCount
			if limit == nil || occupancy[key] <= *limit {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "role_capacity",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("role %s in event %s over capacity: %d/%d participants", key, event.Name, occupancy[key], *limit),
				Entity:   domain.EntityRuleset,
				EntityID: rs.ID,
			})
		}
	}
	return res, nil
}
