// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. The SQL-backed stores reuse
// it for transaction semantics and persist its snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campfees/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Event aliases domain.Event for in-memory persistence operations.
	Event = domain.Event
	// Ruleset aliases domain.Ruleset.
	Ruleset = domain.Ruleset
	// Participant aliases domain.Participant.
	Participant = domain.Participant
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	events       map[string]Event
	rulesets     map[string]Ruleset
	participants map[string]Participant
}

func newMemoryState() memoryState {
	return memoryState{
		events:       make(map[string]Event),
		rulesets:     make(map[string]Ruleset),
		participants: make(map[string]Participant),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.events {
		cloned.events[k] = v
	}
	for k, v := range s.rulesets {
		cloned.rulesets[k] = cloneRuleset(v)
	}
	for k, v := range s.participants {
		cloned.participants[k] = cloneParticipant(v)
	}
	return cloned
}

func cloneRuleset(r Ruleset) Ruleset {
	cp := r
	if r.AgeGroups != nil {
		cp.AgeGroups = append([]domain.AgeGroup(nil), r.AgeGroups...)
	}
	if r.RoleDiscounts != nil {
		cp.RoleDiscounts = make(map[string]domain.RoleDiscount, len(r.RoleDiscounts))
		for k, v := range r.RoleDiscounts {
			if v.MaxCount != nil {
				n := *v.MaxCount
				v.MaxCount = &n
			}
			if v.SubsidyEligible != nil {
				b := *v.SubsidyEligible
				v.SubsidyEligible = &b
			}
			v.Omitted = append([]string(nil), v.Omitted...)
			cp.RoleDiscounts[k] = v
		}
	}
	if r.FamilyDiscount != nil {
		fd := *r.FamilyDiscount
		if fd.FirstChildPercent != nil {
			first := *fd.FirstChildPercent
			fd.FirstChildPercent = &first
		}
		fd.Omitted = append([]string(nil), fd.Omitted...)
		cp.FamilyDiscount = &fd
	}
	return cp
}

func cloneParticipant(p Participant) Participant {
	cp := p
	if p.FamilyID != nil {
		id := *p.FamilyID
		cp.FamilyID = &id
	}
	if p.ManualPriceOverride != nil {
		price := *p.ManualPriceOverride
		cp.ManualPriceOverride = &price
	}
	if p.DeletedAt != nil {
		at := *p.DeletedAt
		cp.DeletedAt = &at
	}
	return cp
}

func sortedEvents(m map[string]Event) []Event {
	out := make([]Event, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

func sortedRulesets(m map[string]Ruleset, keep func(Ruleset) bool) []Ruleset {
	out := make([]Ruleset, 0, len(m))
	for _, r := range m {
		if keep == nil || keep(r) {
			out = append(out, cloneRuleset(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

func sortedParticipants(m map[string]Participant, keep func(Participant) bool) []Participant {
	out := make([]Participant, 0, len(m))
	for _, p := range m {
		if keep == nil || keep(p) {
			out = append(out, cloneParticipant(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessBase(out[i].Base, out[j].Base) })
	return out
}

func lessBase(a, b domain.Base) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListEvents() []Event { return sortedEvents(v.state.events) }

func (v transactionView) ListRulesets() []Ruleset { return sortedRulesets(v.state.rulesets, nil) }

func (v transactionView) ListParticipants() []Participant {
	return sortedParticipants(v.state.participants, nil)
}

func (v transactionView) FindEvent(id string) (Event, bool) {
	e, ok := v.state.events[id]
	return e, ok
}

func (v transactionView) FindRuleset(id string) (Ruleset, bool) {
	r, ok := v.state.rulesets[id]
	if !ok {
		return Ruleset{}, false
	}
	return cloneRuleset(r), true
}

func (v transactionView) FindParticipant(id string) (Participant, bool) {
	p, ok := v.state.participants[id]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// ActiveRulesets returns every ruleset of the event that is flagged active.
func (v transactionView) ActiveRulesets(eventID string) []Ruleset {
	return sortedRulesets(v.state.rulesets, func(r Ruleset) bool {
		return r.EventID == eventID && r.IsActive
	})
}

// ParticipantsForEvent returns all participants of the event, including
// inactive and soft-deleted ones.
func (v transactionView) ParticipantsForEvent(eventID string) []Participant {
	return sortedParticipants(v.state.participants, func(p Participant) bool {
		return p.EventID == eventID
	})
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Registered rules see the resulting state; blocking violations discard it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindEvent(id string) (Event, bool) {
	return newTransactionView(&tx.state).FindEvent(id)
}

func (tx *transaction) FindRuleset(id string) (Ruleset, bool) {
	return newTransactionView(&tx.state).FindRuleset(id)
}

func (tx *transaction) FindParticipant(id string) (Participant, bool) {
	return newTransactionView(&tx.state).FindParticipant(id)
}

// CreateEvent stores a new event within the transaction.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	if e.EndDate.Before(e.StartDate) {
		return Event{}, fmt.Errorf("event %q ends before it starts", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.events[e.ID] = e
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: e})
	return e, nil
}

// UpdateEvent mutates an event using the provided mutator function.
func (tx *transaction) UpdateEvent(id string, mutator func(*Event) error) (Event, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return Event{}, fmt.Errorf("event %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Event{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.events[id] = current
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteEvent removes an event that no ruleset or participant references.
func (tx *transaction) DeleteEvent(id string) error {
	current, ok := tx.state.events[id]
	if !ok {
		return fmt.Errorf("event %q not found", id)
	}
	for _, r := range tx.state.rulesets {
		if r.EventID == id {
			return fmt.Errorf("event %q still referenced by ruleset %q", id, r.ID)
		}
	}
	for _, p := range tx.state.participants {
		if p.EventID == id {
			return fmt.Errorf("event %q still referenced by participant %q", id, p.ID)
		}
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateRuleset stores a new ruleset. An empty EventID leaves the ruleset
// unbound; otherwise the event must exist.
func (tx *transaction) CreateRuleset(r Ruleset) (Ruleset, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.rulesets[r.ID]; exists {
		return Ruleset{}, fmt.Errorf("ruleset %q already exists", r.ID)
	}
	if err := tx.requireEvent(r.EventID, true); err != nil {
		return Ruleset{}, fmt.Errorf("ruleset %q: %w", r.ID, err)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.rulesets[r.ID] = cloneRuleset(r)
	tx.recordChange(Change{Entity: domain.EntityRuleset, Action: domain.ActionCreate, After: cloneRuleset(r)})
	return cloneRuleset(r), nil
}

// UpdateRuleset mutates a ruleset using the provided mutator function.
func (tx *transaction) UpdateRuleset(id string, mutator func(*Ruleset) error) (Ruleset, error) {
	current, ok := tx.state.rulesets[id]
	if !ok {
		return Ruleset{}, fmt.Errorf("ruleset %q not found", id)
	}
	before := cloneRuleset(current)
	current = cloneRuleset(current)
	if err := mutator(&current); err != nil {
		return Ruleset{}, err
	}
	if err := tx.requireEvent(current.EventID, true); err != nil {
		return Ruleset{}, fmt.Errorf("ruleset %q: %w", id, err)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.rulesets[id] = cloneRuleset(current)
	tx.recordChange(Change{Entity: domain.EntityRuleset, Action: domain.ActionUpdate, Before: before, After: cloneRuleset(current)})
	return cloneRuleset(current), nil
}

// DeleteRuleset removes a ruleset record. Participants keep their stored prices.
func (tx *transaction) DeleteRuleset(id string) error {
	current, ok := tx.state.rulesets[id]
	if !ok {
		return fmt.Errorf("ruleset %q not found", id)
	}
	delete(tx.state.rulesets, id)
	tx.recordChange(Change{Entity: domain.EntityRuleset, Action: domain.ActionDelete, Before: cloneRuleset(current)})
	return nil
}

// CreateParticipant stores a new participant registered for an existing event.
func (tx *transaction) CreateParticipant(p Participant) (Participant, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.participants[p.ID]; exists {
		return Participant{}, fmt.Errorf("participant %q already exists", p.ID)
	}
	if err := tx.requireEvent(p.EventID, false); err != nil {
		return Participant{}, fmt.Errorf("participant %q: %w", p.ID, err)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.participants[p.ID] = cloneParticipant(p)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionCreate, After: cloneParticipant(p)})
	return cloneParticipant(p), nil
}

// UpdateParticipant mutates a participant using the provided mutator function.
func (tx *transaction) UpdateParticipant(id string, mutator func(*Participant) error) (Participant, error) {
	current, ok := tx.state.participants[id]
	if !ok {
		return Participant{}, fmt.Errorf("participant %q not found", id)
	}
	before := cloneParticipant(current)
	current = cloneParticipant(current)
	if err := mutator(&current); err != nil {
		return Participant{}, err
	}
	if err := tx.requireEvent(current.EventID, false); err != nil {
		return Participant{}, fmt.Errorf("participant %q: %w", id, err)
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.participants[id] = cloneParticipant(current)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionUpdate, Before: before, After: cloneParticipant(current)})
	return cloneParticipant(current), nil
}

// DeleteParticipant removes a participant record permanently. Callers that
// want an auditable removal set DeletedAt through UpdateParticipant instead.
func (tx *transaction) DeleteParticipant(id string) error {
	current, ok := tx.state.participants[id]
	if !ok {
		return fmt.Errorf("participant %q not found", id)
	}
	delete(tx.state.participants, id)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionDelete, Before: cloneParticipant(current)})
	return nil
}

func (tx *transaction) requireEvent(eventID string, optional bool) error {
	if eventID == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("event id is required")
	}
	if _, ok := tx.state.events[eventID]; !ok {
		return fmt.Errorf("event %q not found", eventID)
	}
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetEvent retrieves an event by ID from committed state.
func (s *Store) GetEvent(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.events[id]
	return e, ok
}

// ListEvents returns all events from committed state ordered by creation.
func (s *Store) ListEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEvents(s.state.events)
}

// GetRuleset retrieves a ruleset by ID from committed state.
func (s *Store) GetRuleset(id string) (Ruleset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.rulesets[id]
	if !ok {
		return Ruleset{}, false
	}
	return cloneRuleset(r), true
}

// ListRulesets returns all rulesets from committed state ordered by creation.
func (s *Store) ListRulesets() []Ruleset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRulesets(s.state.rulesets, nil)
}

// GetParticipant retrieves a participant by ID from committed state.
func (s *Store) GetParticipant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.participants[id]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// ListParticipants returns all participants from committed state ordered by creation.
func (s *Store) ListParticipants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedParticipants(s.state.participants, nil)
}
