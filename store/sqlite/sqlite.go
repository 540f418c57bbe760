/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements versioned.Store plus the timeline collaborators
  (ProjectLookup, PhaseStore, AssignmentSource) using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

VERSION CONTRACT:
  Every entity row carries `version INTEGER NOT NULL DEFAULT 1`. Updates are
  conditional:

    UPDATE entities SET data = ?, version = version + 1
    WHERE kind = ? AND id = ? AND version = ?

  Zero rows affected means the write was stale (or the row is gone); the
  database, not application code, arbitrates which concurrent writer wins.

KEY TABLE:
  entities: one row per versioned entity, uniform across all kinds. The
  payload is JSON; project_id and event_date are extracted into indexed
  columns so phase sets and assignment date ranges can be queried without
  scanning payloads.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety of the SQLite handle. WAL mode keeps
  readers unblocked during writes.

USAGE:
  store, err := sqlite.New("./data/portfolio.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - versioned/store.go: the compare-and-set contract
  - timeline/service.go: the phase store interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/portfolio-engine/timeline"
	"github.com/warp/portfolio-engine/versioned"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- One row per versioned entity, uniform across all kinds.
	-- The version column is the optimistic lock: NOT NULL, default 1.
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		project_id TEXT,
		event_date TEXT,
		data TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	-- Phase-set loads and project-scoped listings
	CREATE INDEX IF NOT EXISTS idx_entities_kind_project
		ON entities(kind, project_id);

	-- Assignment date-range queries (phase membership is date containment)
	CREATE INDEX IF NOT EXISTS idx_entities_kind_project_date
		ON entities(kind, project_id, event_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// indexFields are the payload fields promoted into indexed columns.
type indexFields struct {
	ProjectID string `json:"project_id"`
	Date      string `json:"date"`
}

func extractIndexFields(data []byte) indexFields {
	var f indexFields
	json.Unmarshal(data, &f)
	return f
}

// =============================================================================
// VERSIONED ENTITY STORE (versioned.Store interface)
// =============================================================================

// Get returns the entity's current snapshot.
func (s *Store) Get(ctx context.Context, kind versioned.Kind, id string) (versioned.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRow(ctx, s.db, kind, id)
}

func (s *Store) getRow(ctx context.Context, q queryer, kind versioned.Kind, id string) (versioned.Record, error) {
	var (
		data    string
		version int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT data, version FROM entities WHERE kind = ? AND id = ?",
		string(kind), id,
	).Scan(&data, &version)

	if err == sql.ErrNoRows {
		return versioned.Record{}, versioned.ErrNotFound
	}
	if err != nil {
		return versioned.Record{}, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}

	return versioned.Record{Kind: kind, ID: id, Version: version, Data: json.RawMessage(data)}, nil
}

// List returns all entities of a kind ordered by id.
func (s *Store) List(ctx context.Context, kind versioned.Kind) ([]versioned.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data, version FROM entities WHERE kind = ? ORDER BY id",
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", kind, err)
	}
	defer rows.Close()

	var recs []versioned.Record
	for rows.Next() {
		var (
			id      string
			data    string
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}
		recs = append(recs, versioned.Record{Kind: kind, ID: id, Version: version, Data: json.RawMessage(data)})
	}
	return recs, rows.Err()
}

// Create persists a new entity with version 1. Caller-supplied versions are
// never consulted.
func (s *Store) Create(ctx context.Context, kind versioned.Kind, id string, data []byte) (versioned.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := extractIndexFields(data)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, project_id, event_date, data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		string(kind), id, nullString(f.ProjectID), nullString(f.Date), string(data), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return versioned.Record{}, fmt.Errorf("%s %s already exists", kind, id)
		}
		return versioned.Record{}, fmt.Errorf("failed to create %s %s: %w", kind, id, err)
	}

	return versioned.Record{Kind: kind, ID: id, Version: 1, Data: data}, nil
}

// UpdateVersioned is the compare-and-set. The WHERE clause on version makes
// the check and the write one atomic operation; zero rows affected means
// the caller's version is stale (or the entity is gone).
func (s *Store) UpdateVersioned(ctx context.Context, kind versioned.Kind, id string, expectedVersion int64, data []byte) (versioned.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateRow(ctx, s.db, kind, id, expectedVersion, data)
}

func (s *Store) updateRow(ctx context.Context, db execQueryer, kind versioned.Kind, id string, expectedVersion int64, data []byte) (versioned.Record, error) {
	f := extractIndexFields(data)
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := db.ExecContext(ctx, `
		UPDATE entities
		SET data = ?, project_id = ?, event_date = ?, version = version + 1, updated_at = ?
		WHERE kind = ? AND id = ? AND version = ?`,
		string(data), nullString(f.ProjectID), nullString(f.Date), now,
		string(kind), id, expectedVersion,
	)
	if err != nil {
		return versioned.Record{}, fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return versioned.Record{}, err
	}
	if affected == 0 {
		if _, err := s.getRow(ctx, db, kind, id); err != nil {
			return versioned.Record{}, err
		}
		return versioned.Record{}, versioned.ErrStaleVersion
	}

	return versioned.Record{Kind: kind, ID: id, Version: expectedVersion + 1, Data: data}, nil
}

// Delete removes an entity.
func (s *Store) Delete(ctx context.Context, kind versioned.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE kind = ? AND id = ?", string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return versioned.ErrNotFound
	}
	return nil
}

// =============================================================================
// PROJECT LOOKUP (timeline.ProjectLookup interface)
// =============================================================================

// ProjectByID returns the project's identity and date range.
func (s *Store) ProjectByID(ctx context.Context, id string) (timeline.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.projectRow(ctx, s.db, id)
}

func (s *Store) projectRow(ctx context.Context, q queryer, id string) (timeline.Project, error) {
	rec, err := s.getRow(ctx, q, versioned.KindProject, id)
	if err == versioned.ErrNotFound {
		return timeline.Project{}, fmt.Errorf("project %s: %w", id, timeline.ErrProjectNotFound)
	}
	if err != nil {
		return timeline.Project{}, err
	}

	var p timeline.Project
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return timeline.Project{}, fmt.Errorf("malformed project %s: %w", id, err)
	}
	p.ID = rec.ID
	p.Version = rec.Version
	return p, nil
}

// =============================================================================
// PHASE STORE (timeline.PhaseStore interface)
// =============================================================================

// PhasesByProject returns all phases of a project ordered by start date.
func (s *Store) PhasesByProject(ctx context.Context, projectID string) ([]timeline.Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.phasesByProject(ctx, s.db, projectID)
}

func (s *Store) phasesByProject(ctx context.Context, q queryer, projectID string) ([]timeline.Phase, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, data, version FROM entities
		WHERE kind = ? AND project_id = ?`,
		string(versioned.KindPhase), projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load phases for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var phases []timeline.Phase
	for rows.Next() {
		var (
			id      string
			data    string
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}
		var p timeline.Phase
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("malformed phase %s: %w", id, err)
		}
		p.ID = id
		p.Version = version
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortPhasesByStart(phases)
	return phases, nil
}

func sortPhasesByStart(phases []timeline.Phase) {
	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].StartDate.Before(phases[j].StartDate)
	})
}

// ReplacePhaseSet applies upserts and deletions in one transaction. Upserts
// carrying a version are conditional on it; a stale version aborts the
// whole replacement with a *versioned.ConflictError, keeping the replace
// strictly all-or-nothing.
//
// The resulting set is re-validated against the project's date range inside
// the transaction. The caller validated its candidates against a snapshot;
// a replacement built from an older snapshot (stale deletions, phases
// committed by someone else in between) can still produce a discontinuous
// set, and this check is what rejects it before commit.
func (s *Store) ReplacePhaseSet(ctx context.Context, projectID string, upserts []timeline.Phase, deleteIDs []string) ([]timeline.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, phase := range upserts {
		if err := s.upsertPhase(ctx, tx, projectID, phase); err != nil {
			return nil, err
		}
	}
	for _, id := range deleteIDs {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM entities WHERE kind = ? AND id = ? AND project_id = ?",
			string(versioned.KindPhase), id, projectID,
		); err != nil {
			return nil, fmt.Errorf("failed to delete phase %s: %w", id, err)
		}
	}

	project, err := s.projectRow(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	phases, err := s.phasesByProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if verdict := timeline.Validate(project.StartDate, project.EndDate, phases, ""); !verdict.IsValid {
		return nil, &timeline.ValidationError{ProjectID: projectID, Errors: verdict.Errors}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return phases, nil
}

func (s *Store) upsertPhase(ctx context.Context, tx *sql.Tx, projectID string, phase timeline.Phase) error {
	phase.ProjectID = projectID
	data, err := marshalPhasePayload(phase)
	if err != nil {
		return err
	}

	current, err := s.getRow(ctx, tx, versioned.KindPhase, phase.ID)
	if err == versioned.ErrNotFound {
		now := time.Now().UTC().Format(time.RFC3339)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, id, project_id, event_date, data, version, created_at, updated_at)
			VALUES (?, ?, ?, NULL, ?, 1, ?, ?)`,
			string(versioned.KindPhase), phase.ID, projectID, string(data), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create phase %s: %w", phase.ID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if phase.Version != current.Version {
		return &versioned.ConflictError{
			EntityType: versioned.KindPhase,
			EntityID:   phase.ID,
			Message: fmt.Sprintf("expected version %d but current version is %d; refresh and retry",
				phase.Version, current.Version),
			CurrentState: current,
		}
	}

	_, err = s.updateRow(ctx, tx, versioned.KindPhase, phase.ID, phase.Version, data)
	return err
}

// marshalPhasePayload strips id and version from the stored payload: both
// live in their own columns and are owned by the store.
func marshalPhasePayload(phase timeline.Phase) ([]byte, error) {
	phase.ID = ""
	phase.Version = 0
	data, err := json.Marshal(phase)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal phase: %w", err)
	}
	return data, nil
}

// =============================================================================
// ASSIGNMENT SOURCE (timeline.AssignmentSource interface)
// =============================================================================

// AssignmentsInRange returns the project's assignments with a date inside
// [from, to], ordered by date. This indexed range query is how phase
// membership is derived.
func (s *Store) AssignmentsInRange(ctx context.Context, projectID string, from, to timeline.Date) ([]timeline.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, version FROM entities
		WHERE kind = ? AND project_id = ?
		  AND event_date >= ? AND event_date <= ?
		ORDER BY event_date ASC, id ASC`,
		string(versioned.KindResourceAssignment), projectID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var assignments []timeline.Assignment
	for rows.Next() {
		var (
			id      string
			data    string
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}
		var a timeline.Assignment
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("malformed assignment %s: %w", id, err)
		}
		a.ID = id
		a.Version = version
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM entities")
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execQueryer interface {
	execer
	queryer
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
