package versioned

import (
	"context"
	"encoding/json"
	"errors"
)

// =============================================================================
// BULK WRITE COORDINATOR - Partial success by design
// =============================================================================

// BulkItem is one versioned update in a batch.
type BulkItem struct {
	ID              string          `json:"id"`
	ExpectedVersion int64           `json:"expected_version"`
	Patch           json.RawMessage `json:"patch"`
}

// BulkSuccess records an applied update.
type BulkSuccess struct {
	ID         string `json:"id"`
	NewVersion int64  `json:"new_version"`
}

// BulkFailure records a rejected update. Version conflicts carry the
// entity's current state; other failures (e.g. not found) carry only the
// message.
type BulkFailure struct {
	ID           string  `json:"id"`
	Error        string  `json:"error"`
	Message      string  `json:"message"`
	EntityType   Kind    `json:"entity_type,omitempty"`
	CurrentState *Record `json:"current_state,omitempty"`
}

// BulkWriteResult partitions a batch's outcomes. Both lists follow input
// order so clients (e.g. calendar bulk edits) render deterministically.
type BulkWriteResult struct {
	Succeeded []BulkSuccess `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// Bulk applies batches of independent versioned updates. One item's
// conflict never aborts or rolls back the others: partial success is the
// designed behavior here, in deliberate contrast to the all-or-nothing
// phase replacement in package timeline.
type Bulk struct {
	writer *Writer
}

// NewBulk creates a bulk coordinator over a Writer.
func NewBulk(writer *Writer) *Bulk {
	return &Bulk{writer: writer}
}

// BulkUpdate attempts every item independently and partitions the outcomes.
func (b *Bulk) BulkUpdate(ctx context.Context, kind Kind, items []BulkItem, actorID string) BulkWriteResult {
	result := BulkWriteResult{
		Succeeded: []BulkSuccess{},
		Failed:    []BulkFailure{},
	}

	for _, item := range items {
		rec, err := b.writer.ApplyPatch(ctx, kind, item.ID, item.ExpectedVersion, item.Patch, actorID)
		if err == nil {
			result.Succeeded = append(result.Succeeded, BulkSuccess{ID: item.ID, NewVersion: rec.Version})
			continue
		}

		if ce, ok := IsConflict(err); ok {
			state := ce.CurrentState
			result.Failed = append(result.Failed, BulkFailure{
				ID:           item.ID,
				Error:        "conflict",
				Message:      ce.Message,
				EntityType:   ce.EntityType,
				CurrentState: &state,
			})
			continue
		}

		failure := BulkFailure{ID: item.ID, Error: "error", Message: err.Error(), EntityType: kind}
		if errors.Is(err, ErrNotFound) {
			failure.Error = "not_found"
		}
		result.Failed = append(result.Failed, failure)
	}

	return result
}
