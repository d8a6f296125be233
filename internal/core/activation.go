package core

import (
	"context"
	"errors"
	"fmt"

	"campfees/internal/pricing"
	"campfees/pkg/domain"
)

// ErrEventMismatch is returned when a ruleset is activated for an event it
// does not belong to.
var ErrEventMismatch = errors.New("ruleset belongs to a different event")

// ActivationResult summarises one activation or recalculation run.
type ActivationResult struct {
	Deactivated  int
	Recalculated int
	Skipped      int
	Failed       int
	// Unmatched lists participants whose age fell into no age group and were
	// priced at zero.
	Unmatched []string
}

// ActivationCoordinator owns the one-active-ruleset-per-event transition and
// the bulk price recalculation that must follow it.
type ActivationCoordinator struct {
	store  domain.PersistentStore
	logger Logger
}

// NewActivationCoordinator builds a coordinator over store. A nil logger
// disables logging.
func NewActivationCoordinator(store domain.PersistentStore, logger Logger) *ActivationCoordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ActivationCoordinator{store: store, logger: logger}
}

// Activate makes rulesetID the only active ruleset of eventID and then
// recalculates the stored prices of the event's participants. The event must
// exist, so rulesets without an event can never become active.
//
// The flag flip and the recalculation run in separate transactions. When the
// second one fails the event still has exactly one active ruleset and
// Recalculate can be re-run.
func (c *ActivationCoordinator) Activate(ctx context.Context, eventID, rulesetID string) (ActivationResult, error) {
	var result ActivationResult
	if _, err := c.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindEvent(eventID); eventID == "" || !ok {
			return ErrNotFound{Entity: domain.EntityEvent, ID: eventID}
		}
		target, ok := tx.FindRuleset(rulesetID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityRuleset, ID: rulesetID}
		}
		if target.EventID != eventID {
			return fmt.Errorf("activate %s for event %s: %w", rulesetID, eventID, ErrEventMismatch)
		}
		for _, rs := range tx.Snapshot().ActiveRulesets(eventID) {
			if rs.ID == rulesetID {
				continue
			}
			if _, err := tx.UpdateRuleset(rs.ID, func(r *domain.Ruleset) error {
				r.IsActive = false
				return nil
			}); err != nil {
				return err
			}
			result.Deactivated++
		}
		if target.IsActive {
			return nil
		}
		_, err := tx.UpdateRuleset(rulesetID, func(r *domain.Ruleset) error {
			r.IsActive = true
			return nil
		})
		return err
	}); err != nil {
		return ActivationResult{}, err
	}
	c.logger.Info("ruleset activated", "event_id", eventID, "ruleset_id", rulesetID, "deactivated", result.Deactivated)

	recalc, err := c.Recalculate(ctx, eventID)
	if err != nil {
		return result, err
	}
	result.Recalculated = recalc.Recalculated
	result.Skipped = recalc.Skipped
	result.Failed = recalc.Failed
	result.Unmatched = recalc.Unmatched
	return result, nil
}

// Recalculate reprices every billable participant of eventID against the
// event's active ruleset. Participants with a manual price override are
// skipped and only changed prices are written, so repeated runs over
// unchanged facts recalculate nothing. Per-participant failures are logged
// and counted, never returned.
func (c *ActivationCoordinator) Recalculate(ctx context.Context, eventID string) (ActivationResult, error) {
	var result ActivationResult
	if _, err := c.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		result = c.recalculate(tx, eventID)
		return nil
	}); err != nil {
		return ActivationResult{}, err
	}
	c.logger.Info("event recalculated", "event_id", eventID,
		"recalculated", result.Recalculated, "skipped", result.Skipped, "failed", result.Failed, "unmatched", len(result.Unmatched))
	return result, nil
}

// recalculate runs the repricing batch inside an open transaction. Events
// without an active ruleset are left untouched.
func (c *ActivationCoordinator) recalculate(tx domain.Transaction, eventID string) ActivationResult {
	var result ActivationResult
	view := tx.Snapshot()
	active := view.ActiveRulesets(eventID)
	if len(active) == 0 {
		return result
	}
	rs := active[0]
	event, eventKnown := view.FindEvent(eventID)
	participants := view.ParticipantsForEvent(eventID)

	for _, p := range participants {
		if !p.Billable() {
			continue
		}
		if p.ManualPriceOverride != nil {
			result.Skipped++
			continue
		}
		if !eventKnown {
			c.logger.Warn("recalculate participant failed", "participant_id", p.ID, "error", ErrNotFound{Entity: domain.EntityEvent, ID: eventID})
			result.Failed++
			continue
		}
		facts, err := DeriveFacts(event, p, participants)
		if err != nil {
			c.logger.Warn("recalculate participant failed", "participant_id", p.ID, "error", err)
			result.Failed++
			continue
		}
		breakdown := pricing.ComputePrice(facts, rs)
		if !breakdown.AgeGroupMatched {
			c.logger.Warn("no age group matches participant", "participant_id", p.ID, "age", facts.Age, "ruleset_id", rs.ID)
			result.Unmatched = append(result.Unmatched, p.ID)
		}
		if breakdown.FinalPrice.Equal(p.CalculatedPrice) {
			continue
		}
		if _, err := tx.UpdateParticipant(p.ID, func(stored *domain.Participant) error {
			stored.CalculatedPrice = breakdown.FinalPrice
			return nil
		}); err != nil {
			c.logger.Warn("store recalculated price failed", "participant_id", p.ID, "error", err)
			result.Failed++
			continue
		}
		result.Recalculated++
	}
	return result
}
