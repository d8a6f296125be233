package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateEvent(Event) (Event, error)
	UpdateEvent(id string, mutator func(*Event) error) (Event, error)
	DeleteEvent(id string) error
	CreateRuleset(Ruleset) (Ruleset, error)
	UpdateRuleset(id string, mutator func(*Ruleset) error) (Ruleset, error)
	DeleteRuleset(id string) error
	CreateParticipant(Participant) (Participant, error)
	UpdateParticipant(id string, mutator func(*Participant) error) (Participant, error)
	DeleteParticipant(id string) error
	FindEvent(id string) (Event, bool)
	FindRuleset(id string) (Ruleset, bool)
	FindParticipant(id string) (Participant, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetEvent(id string) (Event, bool)
	ListEvents() []Event
	GetRuleset(id string) (Ruleset, bool)
	ListRulesets() []Ruleset
	GetParticipant(id string) (Participant, bool)
	ListParticipants() []Participant
}
