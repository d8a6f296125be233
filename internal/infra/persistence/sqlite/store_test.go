package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"campfees/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	var event domain.Event
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		event, err = tx.CreateEvent(domain.Event{Name: "Persist", StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)})
		if err != nil {
			return err
		}
		if _, err := tx.CreateRuleset(domain.Ruleset{EventID: event.ID, Name: "Sommer", IsActive: true, AgeGroups: []domain.AgeGroup{{MinAge: 0, MaxAge: 99, Price: decimal.RequireFromString("120.50")}}}); err != nil {
			return err
		}
		_, err = tx.CreateParticipant(domain.Participant{EventID: event.ID, FirstName: "Ada", CalculatedPrice: decimal.RequireFromString("120.50"), IsActive: true})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %q", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListEvents()); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}
	rulesets := reloaded.ListRulesets()
	if len(rulesets) != 1 || !rulesets[0].IsActive || !rulesets[0].AgeGroups[0].Price.Equal(decimal.RequireFromString("120.50")) {
		t.Fatalf("unexpected rulesets %+v", rulesets)
	}
	participants := reloaded.ListParticipants()
	if len(participants) != 1 || !participants[0].CalculatedPrice.Equal(decimal.RequireFromString("120.50")) {
		t.Fatalf("unexpected participants %+v", participants)
	}
}

func TestSQLiteStoreWritesEveryBucket(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("empty transaction: %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 buckets, got %d", count)
	}
}

func TestSQLiteStoreRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES('events', '{not json')`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	_ = store.Close()
	if _, err := NewStore(path, nil); err == nil {
		t.Fatalf("expected corrupt snapshot to fail loading")
	}
}
