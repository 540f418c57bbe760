package versioned_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/portfolio-engine/versioned"
	"github.com/warp/portfolio-engine/versioned/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// recordingSink captures conflict events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []versioned.ConflictEvent
}

func (r *recordingSink) ConflictDetected(_ context.Context, e versioned.ConflictEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newTestWriter() (*versioned.Writer, *store.Memory, *recordingSink) {
	mem := store.NewMemory()
	sink := &recordingSink{}
	return versioned.NewWriter(mem, sink), mem, sink
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

// =============================================================================
// VERSION CONTRACT TESTS
// =============================================================================

func TestStore_Create_StartsAtVersionOne(t *testing.T) {
	_, mem, _ := newTestWriter()
	ctx := context.Background()

	rec, err := mem.Create(ctx, versioned.KindResource, "res-1", raw(`{"name":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version, "creation must start at version 1")
}

func TestWriter_Apply_IncrementsByExactlyOne(t *testing.T) {
	// GIVEN: A resource at version 1
	w, mem, _ := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindResource, "res-1", raw(`{"name":"Alice"}`))
	require.NoError(t, err)

	// WHEN: Applying an update with the matching version
	rec, err := w.Apply(ctx, versioned.KindResource, "res-1", 1, raw(`{"name":"Alice B"}`), "actor-1")

	// THEN: The version is 2, never more
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.JSONEq(t, `{"name":"Alice B"}`, string(rec.Data))
}

func TestWriter_Apply_StaleVersion_ConflictWithCurrentState(t *testing.T) {
	// GIVEN: A project updated once, so it sits at version 2
	w, mem, sink := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindProject, "proj-1", raw(`{"name":"v1"}`))
	require.NoError(t, err)
	_, err = w.Apply(ctx, versioned.KindProject, "proj-1", 1, raw(`{"name":"v2"}`), "actor-1")
	require.NoError(t, err)

	// WHEN: A second writer presents the version it loaded before the update
	_, err = w.Apply(ctx, versioned.KindProject, "proj-1", 1, raw(`{"name":"stale"}`), "actor-2")

	// THEN: The write is rejected with the current state attached
	ce, ok := versioned.IsConflict(err)
	require.True(t, ok, "expected a ConflictError, got %v", err)
	assert.Equal(t, versioned.KindProject, ce.EntityType)
	assert.Equal(t, "proj-1", ce.EntityID)
	assert.Equal(t, int64(2), ce.CurrentState.Version)
	assert.JSONEq(t, `{"name":"v2"}`, string(ce.CurrentState.Data))
	assert.Contains(t, ce.Message, "expected version 1")
	assert.Contains(t, ce.Message, "current version is 2")
	assert.ErrorIs(t, err, versioned.ErrStaleVersion)

	// And the entity was not mutated by the losing writer
	current, err := mem.Get(ctx, versioned.KindProject, "proj-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"v2"}`, string(current.Data))

	// And one audit event was emitted with the losing actor
	require.Len(t, sink.events, 1)
	assert.Equal(t, "actor-2", sink.events[0].ActorID)
	assert.Equal(t, int64(1), sink.events[0].ExpectedVersion)
	assert.Equal(t, int64(2), sink.events[0].ActualVersion)
}

func TestWriter_TwoWritersSameVersion_ExactlyOneWins(t *testing.T) {
	// GIVEN: An entity at version 5 that two users loaded
	w, mem, _ := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindRate, "rate-1", raw(`{"amount":"100"}`))
	require.NoError(t, err)
	for v := int64(1); v < 5; v++ {
		_, err = w.Apply(ctx, versioned.KindRate, "rate-1", v, raw(`{"amount":"100"}`), "setup")
		require.NoError(t, err)
	}

	// WHEN: Both save against version 5
	_, errA := w.Apply(ctx, versioned.KindRate, "rate-1", 5, raw(`{"amount":"110"}`), "user-a")
	_, errB := w.Apply(ctx, versioned.KindRate, "rate-1", 5, raw(`{"amount":"120"}`), "user-b")

	// THEN: The first wins and moves the entity to 6; the second conflicts
	require.NoError(t, errA)
	ce, ok := versioned.IsConflict(errB)
	require.True(t, ok)
	assert.Equal(t, int64(6), ce.CurrentState.Version)

	current, err := mem.Get(ctx, versioned.KindRate, "rate-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), current.Version)
	assert.JSONEq(t, `{"amount":"110"}`, string(current.Data))
}

func TestWriter_Apply_UnknownEntity_NotFound(t *testing.T) {
	w, _, sink := newTestWriter()

	_, err := w.Apply(context.Background(), versioned.KindWorker, "ghost", 1, raw(`{}`), "actor-1")

	assert.ErrorIs(t, err, versioned.ErrNotFound)
	assert.Empty(t, sink.events, "a missing entity is not a conflict")
}

// =============================================================================
// PATCH UPDATE TESTS
// =============================================================================

func TestWriter_ApplyPatch_MergesOntoCurrentPayload(t *testing.T) {
	// GIVEN: A worker with two fields
	w, mem, _ := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindWorker, "w-1", raw(`{"name":"Sam","role":"engineer"}`))
	require.NoError(t, err)

	// WHEN: Patching only the role
	rec, err := w.ApplyPatch(ctx, versioned.KindWorker, "w-1", 1, raw(`{"role":"lead"}`), "actor-1")

	// THEN: The untouched field survives and the version advances
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.JSONEq(t, `{"name":"Sam","role":"lead"}`, string(rec.Data))
}

func TestWriter_ApplyPatch_StaleVersion_Conflict(t *testing.T) {
	w, mem, sink := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindWorker, "w-1", raw(`{"name":"Sam"}`))
	require.NoError(t, err)
	_, err = w.ApplyPatch(ctx, versioned.KindWorker, "w-1", 1, raw(`{"name":"Samir"}`), "actor-1")
	require.NoError(t, err)

	_, err = w.ApplyPatch(ctx, versioned.KindWorker, "w-1", 1, raw(`{"name":"stale"}`), "actor-2")

	ce, ok := versioned.IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(2), ce.CurrentState.Version)
	require.Len(t, sink.events, 1)
}

func TestWriter_ApplyPatch_IgnoresIDAndVersionKeys(t *testing.T) {
	// GIVEN: A worker at version 1
	w, mem, _ := newTestWriter()
	ctx := context.Background()
	_, err := mem.Create(ctx, versioned.KindWorker, "w-1", raw(`{"name":"Sam"}`))
	require.NoError(t, err)

	// WHEN: The patch tries to smuggle in id and version
	rec, err := w.ApplyPatch(ctx, versioned.KindWorker, "w-1", 1,
		raw(`{"id":"hijack","version":99,"name":"Samir"}`), "actor-1")

	// THEN: Both are scrubbed; the store owns them
	require.NoError(t, err)
	assert.Equal(t, "w-1", rec.ID)
	assert.Equal(t, int64(2), rec.Version)
	assert.JSONEq(t, `{"name":"Samir"}`, string(rec.Data))
}

// =============================================================================
// RECORD SNAPSHOT SHAPE
// =============================================================================

func TestRecord_MarshalJSON_MergesIDAndVersion(t *testing.T) {
	rec := versioned.Record{
		Kind:    versioned.KindResource,
		ID:      "res-1",
		Version: 3,
		Data:    raw(`{"name":"Alice"}`),
	}

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"res-1","version":3,"name":"Alice"}`, string(out))
}

func TestParseKind_AllThirteenKinds(t *testing.T) {
	kinds := versioned.Kinds()
	require.Len(t, kinds, 13)
	for _, k := range kinds {
		parsed, err := versioned.ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := versioned.ParseKind("milestone")
	assert.Error(t, err)
}
