package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"campfees/internal/infra/persistence/memory"
	"campfees/internal/infra/persistence/postgres/testutil"
	"campfees/pkg/domain"
)

func openStub(t *testing.T) (*testutil.StubConn, func()) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %q", driverName)
		}
		return db, nil
	})
	return conn, restore
}

func TestNewStoreCreatesStateTableAndPersists(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore(ctx, "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS state") {
		t.Fatalf("expected state DDL, got %v", conn.Execs)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		event, err := tx.CreateEvent(domain.Event{Name: "Sommer", StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)})
		if err != nil {
			return err
		}
		_, err = tx.CreateParticipant(domain.Participant{EventID: event.ID, CalculatedPrice: decimal.NewFromInt(150)})
		return err
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, bucket := range memory.Buckets {
		if _, ok := conn.Bucket(bucket); !ok {
			t.Fatalf("expected bucket %s persisted", bucket)
		}
	}
	if store.DB() == nil {
		t.Fatalf("expected db handle")
	}
}

func TestNewStoreHydratesFromSnapshot(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	conn.State[memory.BucketEvents] = []byte(`{"ev-1":{"id":"ev-1","name":"Herbst","start_date":"2024-10-01T00:00:00Z","end_date":"2024-10-05T00:00:00Z"}}`)
	conn.State[memory.BucketParticipants] = []byte(`{"p-1":{"id":"p-1","event_id":"ev-1","calculated_price":"135.5","is_active":true}}`)

	store, err := NewStore(ctx, "postgres://example", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	event, ok := store.GetEvent("ev-1")
	if !ok || event.Name != "Herbst" {
		t.Fatalf("expected hydrated event, got %+v", event)
	}
	p, ok := store.GetParticipant("p-1")
	if !ok || !p.CalculatedPrice.Equal(decimal.RequireFromString("135.50")) {
		t.Fatalf("expected hydrated participant, got %+v", p)
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*testutil.StubConn)
		want  string
	}{
		{name: "ping", setup: func(c *testutil.StubConn) { c.FailPing = true }, want: "ping postgres"},
		{name: "ddl", setup: func(c *testutil.StubConn) { c.FailExec = true }, want: "ensure state table"},
		{name: "select", setup: func(c *testutil.StubConn) { c.FailQuery = true }, want: "select state"},
		{name: "decode", setup: func(c *testutil.StubConn) { c.State[memory.BucketRulesets] = []byte("{") }, want: "decode rulesets"},
		{name: "iterate", setup: func(c *testutil.StubConn) { c.RowsErr = errors.New("rows") }, want: "iterate state"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, restore := openStub(t)
			defer restore()
			tc.setup(conn)
			if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}

	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial") })
	defer restore()
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestRunInTransactionPersistFailures(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*testutil.StubConn)
		want  string
	}{
		{name: "begin", setup: func(c *testutil.StubConn) { c.FailBegin = true }, want: "begin tx"},
		{name: "upsert", setup: func(c *testutil.StubConn) { c.FailBuckets = map[string]bool{memory.BucketRulesets: true} }, want: "upsert rulesets"},
		{name: "commit", setup: func(c *testutil.StubConn) { c.FailCommit = true }, want: "commit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, restore := openStub(t)
			defer restore()
			store, err := NewStore(ctx, "", nil)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			tc.setup(conn)
			_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				_, err := tx.CreateRuleset(domain.Ruleset{Name: "x"})
				return err
			})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestRunInTransactionSkipsPersistOnError(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := conn.Bucket(memory.BucketEvents); ok {
		t.Fatalf("failed transaction must not persist")
	}
}

func TestRunInTransactionWritesOnlyChangedBuckets(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	upserts := func() int {
		n := 0
		for _, q := range conn.Execs {
			if strings.HasPrefix(q, "INSERT INTO state") {
				n++
			}
		}
		return n
	}

	var eventID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		event, err := tx.CreateEvent(domain.Event{Name: "Sommer", StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 7, 14, 0, 0, 0, 0, time.UTC)})
		eventID = event.ID
		return err
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if got := upserts(); got != len(memory.Buckets) {
		t.Fatalf("expected first flush to write every bucket, got %d", got)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateParticipant(domain.Participant{EventID: eventID, IsActive: true})
		return err
	}); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	if got := upserts(); got != len(memory.Buckets)+1 {
		t.Fatalf("expected only the participants bucket to be written, got %d upserts", got)
	}

	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("empty tx: %v", err)
	}
	if got := upserts(); got != len(memory.Buckets)+1 {
		t.Fatalf("expected no writes for an unchanged state, got %d upserts", got)
	}
}

func TestFailedCommitIsRetriedOnNextFlush(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRuleset(domain.Ruleset{Name: "x"})
		return err
	}); err == nil {
		t.Fatalf("expected commit failure")
	}
	conn.FailCommit = false
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if payload, ok := conn.Bucket(memory.BucketRulesets); !ok || !strings.Contains(string(payload), `"x"`) {
		t.Fatalf("expected rulesets bucket rewritten after failed commit, got %q", payload)
	}
}
