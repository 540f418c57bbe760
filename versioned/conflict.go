package versioned

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// CONFLICT ERROR - Structured rejection of a stale write
// =============================================================================

// ConflictError rejects a write whose expected version no longer matches
// the persisted version. CurrentState is the just-read snapshot including
// the up-to-date version, so the caller can render a comparison view and
// decide to retry or abandon without a follow-up read.
type ConflictError struct {
	EntityType   Kind
	EntityID     string
	Message      string
	CurrentState Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.EntityType, e.EntityID, e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrStaleVersion }

// IsConflict extracts a ConflictError if err carries one.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// =============================================================================
// AUDIT SINK - Conflict events for the excluded audit collaborator
// =============================================================================

// ConflictEvent is emitted once per detected conflict. The actor is
// supplied by the caller; the core never derives identity.
type ConflictEvent struct {
	EntityType      Kind
	EntityID        string
	ExpectedVersion int64
	ActualVersion   int64
	ActorID         string
}

// AuditSink receives conflict events. Formatting and persistence belong to
// the surrounding audit layer.
type AuditSink interface {
	ConflictDetected(ctx context.Context, event ConflictEvent)
}

type nopAuditSink struct{}

func (nopAuditSink) ConflictDetected(context.Context, ConflictEvent) {}

// =============================================================================
// WRITER - Conflict detection around a single versioned update
// =============================================================================

// Writer applies versioned updates for single entities. On a stale write it
// re-reads the entity and returns a *ConflictError carrying the current
// state. It never retries: retry is always a new, explicit caller action
// with the refreshed version.
type Writer struct {
	store Store
	audit AuditSink
}

// NewWriter creates a Writer. A nil audit sink disables conflict events.
func NewWriter(store Store, audit AuditSink) *Writer {
	if audit == nil {
		audit = nopAuditSink{}
	}
	return &Writer{store: store, audit: audit}
}

// Apply replaces the entity's payload conditional on expectedVersion and
// returns the updated record (with the incremented version). A version
// mismatch yields a *ConflictError; the entity is left unchanged.
func (w *Writer) Apply(ctx context.Context, kind Kind, id string, expectedVersion int64, data []byte, actorID string) (Record, error) {
	rec, err := w.store.UpdateVersioned(ctx, kind, id, expectedVersion, data)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrStaleVersion) {
		return Record{}, err
	}
	return Record{}, w.conflict(ctx, kind, id, expectedVersion, actorID)
}

// ApplyPatch merges a JSON merge patch onto the entity's current payload
// and applies the result conditional on expectedVersion. The version
// pre-check here is only a fast path: the store's conditional update in
// Apply remains the arbiter under concurrency.
func (w *Writer) ApplyPatch(ctx context.Context, kind Kind, id string, expectedVersion int64, patch json.RawMessage, actorID string) (Record, error) {
	current, err := w.store.Get(ctx, kind, id)
	if err != nil {
		return Record{}, err
	}
	if current.Version != expectedVersion {
		w.audit.ConflictDetected(ctx, ConflictEvent{
			EntityType:      kind,
			EntityID:        id,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.Version,
			ActorID:         actorID,
		})
		return Record{}, w.newConflictError(kind, id, expectedVersion, current)
	}

	merged, err := MergePatch(current.Data, patch)
	if err != nil {
		return Record{}, fmt.Errorf("invalid patch for %s %s: %w", kind, id, err)
	}
	return w.Apply(ctx, kind, id, expectedVersion, merged, actorID)
}

// conflict builds the structured error for a store-detected stale write.
func (w *Writer) conflict(ctx context.Context, kind Kind, id string, expectedVersion int64, actorID string) error {
	current, err := w.store.Get(ctx, kind, id)
	if err != nil {
		// Deleted between the failed update and the re-read.
		return err
	}
	w.audit.ConflictDetected(ctx, ConflictEvent{
		EntityType:      kind,
		EntityID:        id,
		ExpectedVersion: expectedVersion,
		ActualVersion:   current.Version,
		ActorID:         actorID,
	})
	return w.newConflictError(kind, id, expectedVersion, current)
}

func (w *Writer) newConflictError(kind Kind, id string, expectedVersion int64, current Record) *ConflictError {
	return &ConflictError{
		EntityType: kind,
		EntityID:   id,
		Message: fmt.Sprintf("expected version %d but current version is %d; refresh and retry",
			expectedVersion, current.Version),
		CurrentState: current,
	}
}
