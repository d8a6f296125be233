package memory

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Events       map[string]Event       `json:"events"`
	Rulesets     map[string]Ruleset     `json:"rulesets"`
	Participants map[string]Participant `json:"participants"`
}

// Bucket names used when a snapshot is persisted one bucket per row.
const (
	BucketEvents       = "events"
	BucketRulesets     = "rulesets"
	BucketParticipants = "participants"
)

// Buckets lists the persisted buckets in write order.
var Buckets = []string{BucketEvents, BucketRulesets, BucketParticipants}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Events:       cloned.events,
		Rulesets:     cloned.rulesets,
		Participants: cloned.participants,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		events:       s.Events,
		rulesets:     s.Rulesets,
		participants: s.Participants,
	}
	return state.clone()
}

// migrateSnapshot fills missing buckets and re-keys records whose map key and
// ID disagree so older snapshots load cleanly.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{
		Events:       make(map[string]Event, len(snapshot.Events)),
		Rulesets:     make(map[string]Ruleset, len(snapshot.Rulesets)),
		Participants: make(map[string]Participant, len(snapshot.Participants)),
	}
	for k, e := range snapshot.Events {
		if e.ID == "" {
			e.ID = k
		}
		out.Events[e.ID] = e
	}
	for k, r := range snapshot.Rulesets {
		if r.ID == "" {
			r.ID = k
		}
		out.Rulesets[r.ID] = r
	}
	for k, p := range snapshot.Participants {
		if p.ID == "" {
			p.ID = k
		}
		out.Participants[p.ID] = p
	}
	return out
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// EncodeBuckets serializes each bucket of the snapshot as JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketEvents:
			data, err = json.Marshal(s.Events)
		case BucketRulesets:
			data, err = json.Marshal(s.Rulesets)
		case BucketParticipants:
			data, err = json.Marshal(s.Participants)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket loads one persisted bucket payload into the snapshot. Unknown
// buckets are ignored so newer databases can be read by older binaries.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketEvents:
		target = &s.Events
	case BucketRulesets:
		target = &s.Rulesets
	case BucketParticipants:
		target = &s.Participants
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
