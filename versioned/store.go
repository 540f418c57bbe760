package versioned

import (
	"context"
	"errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when the referenced entity doesn't exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStaleVersion is returned by the store when a conditional update
	// matched zero rows: the persisted version no longer equals the
	// caller's expected version.
	ErrStaleVersion = errors.New("stale version: entity was modified concurrently")
)

// =============================================================================
// STORE - The compare-and-set contract at the storage boundary
// =============================================================================

// Store persists versioned entities of every kind through one uniform
// contract.
//
// Version ownership: Create always initializes version to 1 and ignores any
// caller-supplied version. UpdateVersioned applies the new payload only if
// the persisted version equals expectedVersion, setting version to
// expectedVersion+1 in the same atomic operation (a conditional update with
// a WHERE-clause equivalent). Zero rows matched means ErrStaleVersion when
// the entity exists, ErrNotFound when it doesn't. Callers never set the
// version directly.
type Store interface {
	// Get returns the entity's current snapshot or ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (Record, error)

	// List returns all entities of a kind.
	List(ctx context.Context, kind Kind) ([]Record, error)

	// Create persists a new entity with version 1.
	Create(ctx context.Context, kind Kind, id string, data []byte) (Record, error)

	// UpdateVersioned atomically replaces the payload iff the persisted
	// version equals expectedVersion, incrementing the version by 1.
	// Returns the updated record, ErrStaleVersion, or ErrNotFound.
	UpdateVersioned(ctx context.Context, kind Kind, id string, expectedVersion int64, data []byte) (Record, error)

	// Delete removes the entity. Missing entities return ErrNotFound.
	Delete(ctx context.Context, kind Kind, id string) error
}
