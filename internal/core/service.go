package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campfees/internal/infra/persistence/memory"
	"campfees/internal/pricing"
	"campfees/internal/ruleset"
	"campfees/pkg/domain"
)

// ErrNoActiveRuleset is returned when an event has no active ruleset to
// price against.
var ErrNoActiveRuleset = errors.New("no active ruleset")

// ErrNotFound reports a missing entity.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies timestamps to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the system
// time. Times are always returned in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every audited service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation outcomes and latencies.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// ActivationObserver is implemented by metrics recorders that also track
// activation and recalculation counts.
type ActivationObserver interface {
	ObserveActivation(ctx context.Context, operation string, result ActivationResult)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

type operationMeta struct {
	entity EntityType
	action Action
}

// Actions beyond CRUD reported in audit entries.
const (
	ActionActivate    Action = "activate"
	ActionRecalculate Action = "recalculate"
	ActionQuote       Action = "quote"
	ActionExport      Action = "export"
)

var operationMetadata = map[string]operationMeta{
	"create_event":       {EntityEvent, ActionCreate},
	"create_participant": {EntityParticipant, ActionCreate},
	"update_participant": {EntityParticipant, ActionUpdate},
	"delete_participant": {EntityParticipant, ActionDelete},
	"import_ruleset":     {EntityRuleset, ActionCreate},
	"replace_ruleset":    {EntityRuleset, ActionUpdate},
	"delete_ruleset":     {EntityRuleset, ActionDelete},
	"export_ruleset":     {EntityRuleset, ActionExport},
	"activate_ruleset":   {EntityRuleset, ActionActivate},
	"recalculate_event":  {EntityEvent, ActionRecalculate},
	"quote_participant":  {EntityParticipant, ActionQuote},
}

// Service exposes transactional event, participant and ruleset operations.
// Every operation is traced, timed and audited.
type Service struct {
	store       domain.PersistentStore
	coordinator *ActivationCoordinator
	logger      Logger
	clock       Clock
	now         func() time.Time
	metrics     MetricsRecorder
	tracer      Tracer
	audit       AuditRecorder
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	cfg := serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock != nil {
		if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
			setter.SetNowFunc(cfg.clock.Now)
		}
	}
	now := selectNowFunc(store, cfg.clock)
	clock := cfg.clock
	if clock == nil {
		clock = ClockFunc(now)
	}
	return &Service{
		store:       store,
		coordinator: NewActivationCoordinator(store, cfg.logger),
		logger:      cfg.logger,
		clock:       clock,
		now:         now,
		metrics:     cfg.metrics,
		tracer:      cfg.tracer,
		audit:       cfg.audit,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default rules.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Coordinator returns the activation coordinator bound to the service store.
func (s *Service) Coordinator() *ActivationCoordinator {
	return s.coordinator
}

// RulesEngine returns the rules engine of the backing store, or nil when the
// store does not expose one.
func (s *Service) RulesEngine() *RulesEngine {
	return extractRulesEngine(s.store)
}

func extractRulesEngine(store domain.PersistentStore) *RulesEngine {
	if provider, ok := store.(interface{ RulesEngine() *RulesEngine }); ok {
		return provider.RulesEngine()
	}
	return nil
}

func selectNowFunc(store domain.PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(interface{ NowFunc() func() time.Time }); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	return func() time.Time { return time.Now().UTC() }
}

// run wraps op with tracing, metrics, logging and auditing. fn returns the ID
// of the entity it touched.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	entityID, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err, "duration", duration)
		s.recordAudit(ctx, op, entityID, AuditStatusError, err, duration)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, AuditStatusSuccess, nil, duration)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, status AuditStatus, err error, duration time.Duration) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) observeActivation(ctx context.Context, op string, result ActivationResult) {
	if observer, ok := s.metrics.(ActivationObserver); ok {
		observer.ObserveActivation(ctx, op, result)
	}
}

// CreateEvent persists a new event.
func (s *Service) CreateEvent(ctx context.Context, event Event) (Event, Result, error) {
	var created Event
	var res Result
	err := s.run(ctx, "create_event", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			created, err = tx.CreateEvent(event)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// CreateParticipant registers a participant and prices the event's
// participants against the active ruleset, if any. Adding a sibling can move
// the family positions of the others, so the whole event is repriced.
func (s *Service) CreateParticipant(ctx context.Context, participant Participant) (Participant, Result, error) {
	var created Participant
	var res Result
	err := s.run(ctx, "create_participant", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if created, err = tx.CreateParticipant(participant); err != nil {
				return err
			}
			s.coordinator.recalculate(tx, created.EventID)
			created, _ = tx.FindParticipant(created.ID)
			return nil
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateParticipant mutates a participant and reprices its event.
func (s *Service) UpdateParticipant(ctx context.Context, id string, mutator func(*Participant) error) (Participant, Result, error) {
	var updated Participant
	var res Result
	err := s.run(ctx, "update_participant", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			before, ok := tx.FindParticipant(id)
			if !ok {
				return ErrNotFound{Entity: EntityParticipant, ID: id}
			}
			if updated, err = tx.UpdateParticipant(id, mutator); err != nil {
				return err
			}
			s.coordinator.recalculate(tx, updated.EventID)
			if before.EventID != updated.EventID {
				s.coordinator.recalculate(tx, before.EventID)
			}
			updated, _ = tx.FindParticipant(id)
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// DeleteParticipant soft-deletes a participant. The record is kept with
// DeletedAt set and no longer counts towards prices or family positions.
func (s *Service) DeleteParticipant(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_participant", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			deletedAt := s.now()
			updated, err := tx.UpdateParticipant(id, func(p *Participant) error {
				if p.DeletedAt != nil {
					return fmt.Errorf("participant %q already deleted", id)
				}
				p.IsActive = false
				p.DeletedAt = &deletedAt
				return nil
			})
			if err != nil {
				return err
			}
			s.coordinator.recalculate(tx, updated.EventID)
			return nil
		})
		return id, err
	})
	return res, err
}

// ImportRuleset parses, validates and stores a ruleset document for eventID.
// Imported rulesets start inactive; eventID may be empty for rulesets not yet
// bound to an event.
func (s *Service) ImportRuleset(ctx context.Context, eventID string, raw []byte, source string) (Ruleset, Result, error) {
	var created Ruleset
	var res Result
	err := s.run(ctx, "import_ruleset", func(ctx context.Context) (string, error) {
		rs, _, err := ruleset.Load(raw)
		if err != nil {
			return "", err
		}
		rs.EventID = eventID
		rs.Source = source
		rs.IsActive = false
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			created, err = tx.CreateRuleset(rs)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// ReplaceRuleset replaces the content of a stored ruleset with a new document.
// Identity, event binding, source and activation state are kept. When the
// ruleset is active the event is repriced in the same transaction.
func (s *Service) ReplaceRuleset(ctx context.Context, id string, raw []byte) (Ruleset, Result, error) {
	var updated Ruleset
	var res Result
	err := s.run(ctx, "replace_ruleset", func(ctx context.Context) (string, error) {
		next, _, err := ruleset.Load(raw)
		if err != nil {
			return id, err
		}
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, ok := tx.FindRuleset(id); !ok {
				return ErrNotFound{Entity: EntityRuleset, ID: id}
			}
			updated, err = tx.UpdateRuleset(id, func(r *Ruleset) error {
				next.Base = r.Base
				next.EventID = r.EventID
				next.Source = r.Source
				next.IsActive = r.IsActive
				*r = next
				return nil
			})
			if err != nil {
				return err
			}
			if updated.IsActive {
				s.coordinator.recalculate(tx, updated.EventID)
			}
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// DeleteRuleset removes a ruleset record. Stored participant prices are left
// as they are.
func (s *Service) DeleteRuleset(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_ruleset", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteRuleset(id)
		})
		return id, err
	})
	return res, err
}

// ExportRuleset renders a stored ruleset as a YAML document.
func (s *Service) ExportRuleset(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := s.run(ctx, "export_ruleset", func(context.Context) (string, error) {
		rs, ok := s.store.GetRuleset(id)
		if !ok {
			return id, ErrNotFound{Entity: EntityRuleset, ID: id}
		}
		var err error
		out, err = ruleset.Marshal(rs)
		return id, err
	})
	return out, err
}

// ActivateRuleset makes rulesetID the active ruleset of eventID and reprices
// the event.
func (s *Service) ActivateRuleset(ctx context.Context, eventID, rulesetID string) (ActivationResult, error) {
	var result ActivationResult
	err := s.run(ctx, "activate_ruleset", func(ctx context.Context) (string, error) {
		var err error
		result, err = s.coordinator.Activate(ctx, eventID, rulesetID)
		return rulesetID, err
	})
	if err == nil {
		s.observeActivation(ctx, "activate_ruleset", result)
	}
	return result, err
}

// RecalculateEvent reprices the event against its active ruleset.
func (s *Service) RecalculateEvent(ctx context.Context, eventID string) (ActivationResult, error) {
	var result ActivationResult
	err := s.run(ctx, "recalculate_event", func(ctx context.Context) (string, error) {
		if _, ok := s.store.GetEvent(eventID); !ok {
			return eventID, ErrNotFound{Entity: EntityEvent, ID: eventID}
		}
		var err error
		result, err = s.coordinator.Recalculate(ctx, eventID)
		return eventID, err
	})
	if err == nil {
		s.observeActivation(ctx, "recalculate_event", result)
	}
	return result, err
}

// ActiveRuleset returns the active ruleset of eventID.
func (s *Service) ActiveRuleset(ctx context.Context, eventID string) (Ruleset, error) {
	var active Ruleset
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindEvent(eventID); !ok {
			return ErrNotFound{Entity: EntityEvent, ID: eventID}
		}
		rulesets := view.ActiveRulesets(eventID)
		if len(rulesets) == 0 {
			return fmt.Errorf("event %q: %w", eventID, ErrNoActiveRuleset)
		}
		active = rulesets[0]
		return nil
	})
	return active, err
}

// QuoteParticipant computes the full price breakdown of a participant against
// the active ruleset of its event without storing anything.
func (s *Service) QuoteParticipant(ctx context.Context, participantID string) (pricing.Breakdown, error) {
	var breakdown pricing.Breakdown
	err := s.run(ctx, "quote_participant", func(ctx context.Context) (string, error) {
		return participantID, s.store.View(ctx, func(view domain.TransactionView) error {
			p, ok := view.FindParticipant(participantID)
			if !ok {
				return ErrNotFound{Entity: EntityParticipant, ID: participantID}
			}
			event, ok := view.FindEvent(p.EventID)
			if !ok {
				return ErrNotFound{Entity: EntityEvent, ID: p.EventID}
			}
			active := view.ActiveRulesets(p.EventID)
			if len(active) == 0 {
				return fmt.Errorf("event %q: %w", p.EventID, ErrNoActiveRuleset)
			}
			facts, err := DeriveFacts(event, p, view.ParticipantsForEvent(p.EventID))
			if err != nil {
				return err
			}
			breakdown = pricing.ComputePrice(facts, active[0])
			return nil
		})
	})
	return breakdown, err
}
