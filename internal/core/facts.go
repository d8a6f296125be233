package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"campfees/internal/pricing"
	"campfees/pkg/domain"
)

var errMissingBirthDate = errors.New("birth date is missing")

// AgeOn returns the age in completed years on the given day.
func AgeOn(birth, day time.Time) int {
	by, bm, bd := birth.Date()
	y, m, d := day.Date()
	age := y - by
	if m < bm || (m == bm && d < bd) {
		age--
	}
	return age
}

// FamilyPosition returns the 1-based birth order of p among the billable
// participants sharing its family, oldest first. Ties on birth date are broken
// by ID. Participants without a family are always first.
func FamilyPosition(p domain.Participant, eventParticipants []domain.Participant) int {
	if p.FamilyID == nil || *p.FamilyID == "" {
		return 1
	}
	siblings := make([]domain.Participant, 0, 4)
	for _, other := range eventParticipants {
		if other.ID == p.ID {
			continue
		}
		if other.FamilyID == nil || *other.FamilyID != *p.FamilyID || !other.Billable() || other.BirthDate.IsZero() {
			continue
		}
		siblings = append(siblings, other)
	}
	siblings = append(siblings, p)
	sort.SliceStable(siblings, func(i, j int) bool {
		if !siblings[i].BirthDate.Equal(siblings[j].BirthDate) {
			return siblings[i].BirthDate.Before(siblings[j].BirthDate)
		}
		return siblings[i].ID < siblings[j].ID
	})
	for i, s := range siblings {
		if s.ID == p.ID {
			return i + 1
		}
	}
	return 1
}

// DeriveFacts builds pricing facts for a participant of event. eventParticipants
// is the full participant list of the event and is used for the family position.
func DeriveFacts(event domain.Event, p domain.Participant, eventParticipants []domain.Participant) (pricing.Facts, error) {
	if p.BirthDate.IsZero() {
		return pricing.Facts{}, fmt.Errorf("participant %s: %w", p.ID, errMissingBirthDate)
	}
	if event.StartDate.IsZero() {
		return pricing.Facts{}, fmt.Errorf("event %s has no start date", event.ID)
	}
	facts := pricing.NewFacts(AgeOn(p.BirthDate, event.StartDate))
	facts.RoleKey = p.RoleKey
	facts.FamilyPosition = FamilyPosition(p, eventParticipants)
	facts.ManualDiscountPercent = p.ManualDiscountPercent
	facts.ManualDiscountReason = p.ManualDiscountReason
	if p.ManualPriceOverride != nil {
		override := *p.ManualPriceOverride
		facts.ManualPriceOverride = &override
	}
	return facts, nil
}
