package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"campfees/pkg/domain"
)

// NewSingleActiveRulesetRule returns the blocking rule that keeps at most one
// active ruleset per event.
func NewSingleActiveRulesetRule() domain.Rule {
	return singleActiveRulesetRule{}
}

type singleActiveRulesetRule struct{}

func (singleActiveRulesetRule) Name() string { return "single_active_ruleset" }

func (singleActiveRulesetRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	active := make(map[string][]string)
	for _, rs := range view.ListRulesets() {
		if rs.IsActive {
			active[rs.EventID] = append(active[rs.EventID], rs.ID)
		}
	}

	res := domain.Result{}
	events := make([]string, 0, len(active))
	for eventID := range active {
		events = append(events, eventID)
	}
	sort.Strings(events)
	for _, eventID := range events {
		ids := active[eventID]
		if len(ids) < 2 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "single_active_ruleset",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("event %q has %d active rulesets: %s", eventID, len(ids), strings.Join(ids, ", ")),
			Entity:   domain.EntityEvent,
			EntityID: eventID,
		})
	}
	return res, nil
}
