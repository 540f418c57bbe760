/*
Package versioned implements optimistic concurrency for mutable entities.

PURPOSE:
  Every mutable entity carries an integer version owned by the storage
  boundary: 1 at creation, incremented by exactly 1 on each successful
  update. An update must present the caller's believed version; the store
  applies it only when that version still matches, in a single atomic
  compare-and-set. Stale writes never mutate anything and surface as a
  structured ConflictError carrying the entity's current state, so a client
  can render a comparison view and retry explicitly.

KEY CONCEPTS:
  - Kind/Record: entity type tags and versioned snapshots (this file)
  - Store: the compare-and-set contract, implemented once for all kinds
    (store.go)
  - Writer: conflict detection around a single versioned write (conflict.go)
  - Bulk: partial-success batches of independent versioned writes (bulk.go)

DESIGN PRINCIPLES:
  1. The store, not application code, arbitrates which concurrent writer
     wins: the conditional update is one atomic operation.
  2. No automatic retries. Retry is a new caller action with a fresh version.
  3. Two transactional models coexist deliberately: bulk updates isolate
     per-item failures, while phase replacement (package timeline) is
     all-or-nothing. They never share an error path.
*/
package versioned

import (
	"encoding/json"
	"fmt"
)

// Kind tags an entity type. The version contract is uniform across all
// kinds; no kind gets bespoke versioning behavior.
type Kind string

const (
	KindPortfolio          Kind = "portfolio"
	KindProgram            Kind = "program"
	KindProject            Kind = "project"
	KindPhase              Kind = "phase"
	KindResource           Kind = "resource"
	KindWorkerType         Kind = "worker_type"
	KindWorker             Kind = "worker"
	KindResourceAssignment Kind = "resource_assignment"
	KindRate               Kind = "rate"
	KindActual             Kind = "actual"
	KindUser               Kind = "user"
	KindUserRole           Kind = "user_role"
	KindScopeAssignment    Kind = "scope_assignment"
)

// Kinds returns every versioned entity kind.
func Kinds() []Kind {
	return []Kind{
		KindPortfolio, KindProgram, KindProject, KindPhase,
		KindResource, KindWorkerType, KindWorker, KindResourceAssignment,
		KindRate, KindActual, KindUser, KindUserRole, KindScopeAssignment,
	}
}

// ParseKind validates a kind tag from the wire.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Record is a versioned snapshot of one entity. Data holds the entity's
// fields; ID and Version live beside it because the store, not the caller,
// owns them.
type Record struct {
	Kind    Kind
	ID      string
	Version int64
	Data    json.RawMessage
}

// MarshalJSON emits the entity as one object with id and version merged
// into its fields, which is the snapshot shape conflict responses carry.
func (r Record) MarshalJSON() ([]byte, error) {
	merged := map[string]any{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &merged); err != nil {
			return nil, fmt.Errorf("record %s/%s has malformed payload: %w", r.Kind, r.ID, err)
		}
	}
	merged["id"] = r.ID
	merged["version"] = r.Version
	return json.Marshal(merged)
}
