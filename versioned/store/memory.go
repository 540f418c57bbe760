// Package store provides versioned.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/portfolio-engine/versioned"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[key]versioned.Record
}

type key struct {
	Kind versioned.Kind
	ID   string
}

func NewMemory() *Memory {
	return &Memory{records: make(map[key]versioned.Record)}
}

func (m *Memory) Get(_ context.Context, kind versioned.Kind, id string) (versioned.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key{Kind: kind, ID: id}]
	if !ok {
		return versioned.Record{}, versioned.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) List(_ context.Context, kind versioned.Kind) ([]versioned.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []versioned.Record
	for k, rec := range m.records {
		if k.Kind == kind {
			recs = append(recs, cloneRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// Create persists a new entity with version 1, regardless of any version
// the caller thinks it has.
func (m *Memory) Create(_ context.Context, kind versioned.Kind, id string, data []byte) (versioned.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := versioned.Record{Kind: kind, ID: id, Version: 1, Data: cloneBytes(data)}
	m.records[key{Kind: kind, ID: id}] = rec
	return cloneRecord(rec), nil
}

// UpdateVersioned is the compare-and-set: the whole check-and-replace runs
// under one lock, so the store arbitrates concurrent writers.
func (m *Memory) UpdateVersioned(_ context.Context, kind versioned.Kind, id string, expectedVersion int64, data []byte) (versioned.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Kind: kind, ID: id}
	rec, ok := m.records[k]
	if !ok {
		return versioned.Record{}, versioned.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return versioned.Record{}, versioned.ErrStaleVersion
	}

	rec.Version = expectedVersion + 1
	rec.Data = cloneBytes(data)
	m.records[k] = rec
	return cloneRecord(rec), nil
}

func (m *Memory) Delete(_ context.Context, kind versioned.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Kind: kind, ID: id}
	if _, ok := m.records[k]; !ok {
		return versioned.ErrNotFound
	}
	delete(m.records, k)
	return nil
}

func cloneRecord(rec versioned.Record) versioned.Record {
	rec.Data = cloneBytes(rec.Data)
	return rec
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
