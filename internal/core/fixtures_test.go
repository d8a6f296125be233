package core

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"campfees/internal/infra/persistence/memory"
	"campfees/pkg/domain"
)

var eventStart = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func summerRuleset(eventID, name string, active bool) domain.Ruleset {
	return domain.Ruleset{
		EventID:    eventID,
		Name:       name,
		Type:       "sommerfreizeit",
		ValidFrom:  day(2024, 1, 1),
		ValidUntil: day(2024, 12, 31),
		AgeGroups: []domain.AgeGroup{
			{Name: "Kinder", MinAge: 6, MaxAge: 11, Price: dec("150")},
			{Name: "Jugendliche", MinAge: 12, MaxAge: 17, Price: dec("180")},
			{Name: "Erwachsene", MinAge: 18, MaxAge: 999, Price: dec("220")},
		},
		RoleDiscounts: map[string]domain.RoleDiscount{
			"betreuer": {DiscountPercent: dec("50"), MaxCount: ptr(1)},
		},
		FamilyDiscount: &domain.FamilyDiscount{
			Enabled:               true,
			SecondChildPercent:    dec("10"),
			ThirdPlusChildPercent: dec("20"),
		},
		IsActive: active,
	}
}

type seeded struct {
	store    *memory.Store
	event    domain.Event
	current  domain.Ruleset
	next     domain.Ruleset
	anna     domain.Participant
	ben      domain.Participant
	carla    domain.Participant
	dora     domain.Participant
	inactive domain.Participant
}

// seedEvent stores one event with an active and an inactive ruleset and a
// mix of participants. The inactive "next" ruleset is 10 more per bracket.
func seedEvent(t *testing.T) seeded {
	t.Helper()
	s := seeded{store: memory.NewStore(NewDefaultRulesEngine())}
	if _, err := s.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if s.event, err = tx.CreateEvent(domain.Event{Name: "Sommerfreizeit", StartDate: eventStart, EndDate: eventStart.AddDate(0, 0, 14)}); err != nil {
			return err
		}
		if s.current, err = tx.CreateRuleset(summerRuleset(s.event.ID, "Sommer 2024", true)); err != nil {
			return err
		}
		next := summerRuleset(s.event.ID, "Sommer 2024 v2", false)
		for i := range next.AgeGroups {
			next.AgeGroups[i].Price = next.AgeGroups[i].Price.Add(dec("10"))
		}
		if s.next, err = tx.CreateRuleset(next); err != nil {
			return err
		}
		family := ptr("mueller")
		if s.anna, err = tx.CreateParticipant(domain.Participant{Base: domain.Base{ID: "p-anna"}, EventID: s.event.ID, FirstName: "Anna", BirthDate: day(2014, 3, 1), FamilyID: family, IsActive: true}); err != nil {
			return err
		}
		if s.ben, err = tx.CreateParticipant(domain.Participant{Base: domain.Base{ID: "p-ben"}, EventID: s.event.ID, FirstName: "Ben", BirthDate: day(2016, 5, 1), FamilyID: family, IsActive: true}); err != nil {
			return err
		}
		if s.carla, err = tx.CreateParticipant(domain.Participant{Base: domain.Base{ID: "p-carla"}, EventID: s.event.ID, FirstName: "Carla", BirthDate: day(1990, 1, 1), RoleKey: "Betreuer", IsActive: true}); err != nil {
			return err
		}
		if s.dora, err = tx.CreateParticipant(domain.Participant{Base: domain.Base{ID: "p-dora"}, EventID: s.event.ID, FirstName: "Dora", BirthDate: day(2012, 1, 1), ManualPriceOverride: ptr(dec("42")), IsActive: true}); err != nil {
			return err
		}
		s.inactive, err = tx.CreateParticipant(domain.Participant{Base: domain.Base{ID: "p-gone"}, EventID: s.event.ID, FirstName: "Gone", BirthDate: day(2013, 1, 1), CalculatedPrice: dec("1"), IsActive: false})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func storedPrice(t *testing.T, store domain.PersistentStore, id string) decimal.Decimal {
	t.Helper()
	p, ok := store.GetParticipant(id)
	if !ok {
		t.Fatalf("participant %s missing", id)
	}
	return p.CalculatedPrice
}

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) count(prefix string) int {
	n := 0
	for _, call := range c.calls {
		if call == prefix {
			n++
		}
	}
	return n
}
