/*
handlers_test.go - HTTP-level tests for the API

Tests for:
- Project creation with its default phase
- Phase replacement and validation status codes
- Version conflict responses (409 with current state)
- Partial-success bulk updates
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/warp/portfolio-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store, nil))
}

func perform(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "test-actor")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %s: %v", rec.Body.String(), err)
	}
}

func createTestProject(t *testing.T, router http.Handler) CreateProjectResponse {
	t.Helper()
	rec := perform(t, router, http.MethodPost, "/api/projects", CreateProjectRequest{
		ID:        "proj-1",
		Name:      "Platform Rebuild",
		StartDate: "2026-01-01",
		EndDate:   "2026-12-31",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateProjectResponse
	decode(t, rec, &resp)
	return resp
}

// =============================================================================
// PROJECT TESTS
// =============================================================================

func TestCreateProject_ReturnsDefaultPhase(t *testing.T) {
	router := newTestRouter(t)

	resp := createTestProject(t, router)

	if resp.Project.Version != 1 {
		t.Errorf("New project should be version 1, got %d", resp.Project.Version)
	}
	phase := resp.DefaultPhase
	if phase.Name != "Default Phase" {
		t.Errorf("Expected the default phase name, got %q", phase.Name)
	}
	if phase.StartDate.String() != "2026-01-01" || phase.EndDate.String() != "2026-12-31" {
		t.Errorf("Default phase should span the project: %s..%s", phase.StartDate, phase.EndDate)
	}
}

func TestCreateProject_InvalidDates_BadRequest(t *testing.T) {
	router := newTestRouter(t)

	rec := perform(t, router, http.MethodPost, "/api/projects", CreateProjectRequest{
		Name:      "Backwards",
		StartDate: "2026-12-31",
		EndDate:   "2026-01-01",
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestUpdateProject_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: A project at version 1 that someone else moves to version 2
	router := newTestRouter(t)
	createTestProject(t, router)
	rec := perform(t, router, http.MethodPut, "/api/projects/proj-1", UpdateProjectRequest{
		Name: "Platform Rebuild", StartDate: "2026-01-01", EndDate: "2026-12-31", Version: 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("First update failed: %d %s", rec.Code, rec.Body.String())
	}

	// WHEN: Saving against the stale version
	rec = perform(t, router, http.MethodPut, "/api/projects/proj-1", UpdateProjectRequest{
		Name: "Stale Save", StartDate: "2026-01-01", EndDate: "2026-12-31", Version: 1,
	})

	// THEN: 409 with the current state embedded
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var conflict struct {
		Error        string         `json:"error"`
		Message      string         `json:"message"`
		EntityType   string         `json:"entity_type"`
		EntityID     string         `json:"entity_id"`
		CurrentState map[string]any `json:"current_state"`
	}
	decode(t, rec, &conflict)
	if conflict.Error != "conflict" || conflict.EntityType != "project" || conflict.EntityID != "proj-1" {
		t.Errorf("Unexpected conflict body: %+v", conflict)
	}
	if v, _ := conflict.CurrentState["version"].(float64); int64(v) != 2 {
		t.Errorf("current_state should carry version 2, got %v", conflict.CurrentState["version"])
	}
}

func TestUpdateProject_DateChange_SyncsSinglePhase(t *testing.T) {
	// GIVEN: A fresh project with only its default phase
	router := newTestRouter(t)
	createTestProject(t, router)

	// WHEN: Moving the project end date
	rec := perform(t, router, http.MethodPut, "/api/projects/proj-1", UpdateProjectRequest{
		Name: "Platform Rebuild", StartDate: "2026-01-01", EndDate: "2027-06-30", Version: 1,
	})

	// THEN: The lone phase is resynchronized to the new range
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp UpdateProjectResponse
	decode(t, rec, &resp)
	if resp.SyncedPhase == nil {
		t.Fatal("Expected the synced phase in the response")
	}
	if resp.SyncedPhase.EndDate.String() != "2027-06-30" {
		t.Errorf("Phase end should follow the project, got %s", resp.SyncedPhase.EndDate)
	}
}

func TestGetProject_Missing_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := perform(t, router, http.MethodGet, "/api/projects/ghost", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// =============================================================================
// PHASE TESTS
// =============================================================================

func TestReplacePhases_Valid_ReturnsNewSet(t *testing.T) {
	router := newTestRouter(t)
	createTestProject(t, router)

	rec := perform(t, router, http.MethodPut, "/api/projects/proj-1/phases", map[string]any{
		"phases": []map[string]any{
			{"name": "Planning", "start_date": "2026-01-01", "end_date": "2026-03-31"},
			{"name": "Execution", "start_date": "2026-04-01", "end_date": "2026-12-31"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var phases []map[string]any
	decode(t, rec, &phases)
	if len(phases) != 2 {
		t.Fatalf("Expected 2 phases, got %d", len(phases))
	}
	if phases[0]["name"] != "Planning" || phases[1]["name"] != "Execution" {
		t.Errorf("Phases should come back ordered by start date: %v", phases)
	}
}

func TestReplacePhases_Gap_UnprocessableWithViolations(t *testing.T) {
	router := newTestRouter(t)
	createTestProject(t, router)

	rec := perform(t, router, http.MethodPut, "/api/projects/proj-1/phases", map[string]any{
		"phases": []map[string]any{
			{"name": "Planning", "start_date": "2026-01-01", "end_date": "2026-03-31"},
			{"name": "Execution", "start_date": "2026-04-05", "end_date": "2026-12-31"},
		},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ValidationErrorResponse
	decode(t, rec, &resp)
	if resp.Error != "validation_failed" || len(resp.Errors) == 0 {
		t.Errorf("Expected structured violations, got %+v", resp)
	}

	// And the stored set is untouched
	rec = perform(t, router, http.MethodGet, "/api/projects/proj-1/phases", nil)
	var phases []map[string]any
	decode(t, rec, &phases)
	if len(phases) != 1 || phases[0]["name"] != "Default Phase" {
		t.Errorf("Rejected replacement must leave the default phase, got %v", phases)
	}
}

func TestValidatePhases_DryRun_AlwaysOK(t *testing.T) {
	router := newTestRouter(t)
	createTestProject(t, router)

	rec := perform(t, router, http.MethodPost, "/api/projects/proj-1/phases/validate", map[string]any{
		"phases": []map[string]any{
			{"name": "Planning", "start_date": "2026-01-01", "end_date": "2026-06-30"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Dry-run should be 200 even when invalid, got %d", rec.Code)
	}
	var resp ValidationResponse
	decode(t, rec, &resp)
	if resp.IsValid {
		t.Error("Set not reaching the project end should be invalid")
	}
	if len(resp.Errors) == 0 {
		t.Error("Verdict should carry the violations")
	}
}

func TestDeletePhase_LastPhase_BadRequest(t *testing.T) {
	router := newTestRouter(t)
	resp := createTestProject(t, router)

	rec := perform(t, router, http.MethodDelete,
		fmt.Sprintf("/api/projects/proj-1/phases/%s", resp.DefaultPhase.ID), nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body ErrorResponse
	decode(t, rec, &body)
	if body.Code != "last_phase" {
		t.Errorf("Expected code last_phase, got %q", body.Code)
	}
}

func TestPhaseForDate_ResolvesByContainment(t *testing.T) {
	router := newTestRouter(t)
	createTestProject(t, router)
	rec := perform(t, router, http.MethodPut, "/api/projects/proj-1/phases", map[string]any{
		"phases": []map[string]any{
			{"name": "Planning", "start_date": "2026-01-01", "end_date": "2026-03-31"},
			{"name": "Execution", "start_date": "2026-04-01", "end_date": "2026-12-31"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Replace failed: %d", rec.Code)
	}

	rec = perform(t, router, http.MethodGet, "/api/projects/proj-1/phases/at?date=2026-04-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var phase map[string]any
	decode(t, rec, &phase)
	if phase["name"] != "Execution" {
		t.Errorf("2026-04-01 belongs to Execution, got %v", phase["name"])
	}

	rec = perform(t, router, http.MethodGet, "/api/projects/proj-1/phases/at?date=2027-01-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Dates outside the project should be 404, got %d", rec.Code)
	}
}

// =============================================================================
// GENERIC ENTITY TESTS
// =============================================================================

func TestEntityLifecycle_CreatePatchConflict(t *testing.T) {
	router := newTestRouter(t)

	// Create starts at version 1, ignoring any client-supplied version
	rec := perform(t, router, http.MethodPost, "/api/entities/resource", map[string]any{
		"id": "res-1", "name": "Alice", "version": 42,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	decode(t, rec, &created)
	if v, _ := created["version"].(float64); int64(v) != 1 {
		t.Errorf("Created entity should be version 1, got %v", created["version"])
	}

	// Patch with the right version succeeds
	rec = perform(t, router, http.MethodPut, "/api/entities/resource/res-1", UpdateEntityRequest{
		ExpectedVersion: 1,
		Patch:           json.RawMessage(`{"name":"Alice B"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The same version presented again conflicts
	rec = perform(t, router, http.MethodPut, "/api/entities/resource/res-1", UpdateEntityRequest{
		ExpectedVersion: 1,
		Patch:           json.RawMessage(`{"name":"stale"}`),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var conflict ConflictResponse
	decode(t, rec, &conflict)
	if conflict.CurrentState.Version != 2 {
		t.Errorf("current_state should carry version 2, got %d", conflict.CurrentState.Version)
	}
}

func TestEntityMutations_TimelineKinds_Rejected(t *testing.T) {
	// GIVEN: A project with its default phase
	router := newTestRouter(t)
	created := createTestProject(t, router)
	phaseID := created.DefaultPhase.ID

	// WHEN: Trying to mutate phases and projects through the generic routes
	attempts := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/entities/phase", map[string]any{"name": "Rogue"}},
		{http.MethodPut, "/api/entities/phase/" + phaseID, UpdateEntityRequest{
			ExpectedVersion: 1,
			Patch:           json.RawMessage(`{"end_date":"2026-06-30"}`),
		}},
		{http.MethodDelete, "/api/entities/phase/" + phaseID, nil},
		{http.MethodPost, "/api/entities/phase/bulk", map[string]any{
			"items": []map[string]any{
				{"id": phaseID, "expected_version": 1, "patch": map[string]any{"end_date": "2026-06-30"}},
			},
		}},
		{http.MethodPost, "/api/entities/project", map[string]any{"name": "Rogue"}},
		{http.MethodPut, "/api/entities/project/proj-1", UpdateEntityRequest{
			ExpectedVersion: 1,
			Patch:           json.RawMessage(`{"end_date":"2027-12-31"}`),
		}},
		{http.MethodDelete, "/api/entities/project/proj-1", nil},
	}

	// THEN: Every attempt is a 400 naming the managed route
	for _, a := range attempts {
		rec := perform(t, router, a.method, a.path, a.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d: %s", a.method, a.path, rec.Code, rec.Body.String())
			continue
		}
		var body ErrorResponse
		decode(t, rec, &body)
		if body.Code != "timeline_managed" {
			t.Errorf("%s %s: expected code timeline_managed, got %q", a.method, a.path, body.Code)
		}
	}

	// And the phase set is untouched
	rec := perform(t, router, http.MethodGet, "/api/projects/proj-1/phases", nil)
	var phases []map[string]any
	decode(t, rec, &phases)
	if len(phases) != 1 || phases[0]["end_date"] != "2026-12-31" {
		t.Errorf("Default phase must be untouched, got %v", phases)
	}

	// Reads stay open for every kind
	rec = perform(t, router, http.MethodGet, "/api/entities/phase", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Generic reads should stay open, got %d", rec.Code)
	}
	rec = perform(t, router, http.MethodGet, "/api/entities/phase/"+phaseID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Generic single read should stay open, got %d", rec.Code)
	}
}

func TestResetDatabase_ClearsEverything(t *testing.T) {
	router := newTestRouter(t)
	createTestProject(t, router)

	rec := perform(t, router, http.MethodPost, "/api/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = perform(t, router, http.MethodGet, "/api/projects", nil)
	var projects []ProjectDTO
	decode(t, rec, &projects)
	if len(projects) != 0 {
		t.Errorf("Expected no projects after reset, got %d", len(projects))
	}
}

func TestEntityRoutes_UnknownKind_BadRequest(t *testing.T) {
	router := newTestRouter(t)

	rec := perform(t, router, http.MethodGet, "/api/entities/milestone", nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown kind, got %d", rec.Code)
	}
}

func TestBulkUpdate_PartialSuccess_AlwaysOK(t *testing.T) {
	// GIVEN: Two rates, the second already moved to version 2
	router := newTestRouter(t)
	for _, id := range []string{"rate-1", "rate-2"} {
		rec := perform(t, router, http.MethodPost, "/api/entities/rate", map[string]any{
			"id": id, "amount": "100",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Seed failed: %d", rec.Code)
		}
	}
	rec := perform(t, router, http.MethodPut, "/api/entities/rate/rate-2", UpdateEntityRequest{
		ExpectedVersion: 1,
		Patch:           json.RawMessage(`{"amount":"105"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Bump failed: %d", rec.Code)
	}

	// WHEN: A bulk batch updates both against version 1
	rec = perform(t, router, http.MethodPost, "/api/entities/rate/bulk", map[string]any{
		"items": []map[string]any{
			{"id": "rate-1", "expected_version": 1, "patch": map[string]any{"amount": "110"}},
			{"id": "rate-2", "expected_version": 1, "patch": map[string]any{"amount": "110"}},
		},
	})

	// THEN: 200 with one success and one conflict failure
	if rec.Code != http.StatusOK {
		t.Fatalf("Bulk is always 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Succeeded []map[string]any `json:"succeeded"`
		Failed    []map[string]any `json:"failed"`
	}
	decode(t, rec, &result)
	if len(result.Succeeded) != 1 || result.Succeeded[0]["id"] != "rate-1" {
		t.Errorf("Expected rate-1 to succeed, got %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0]["error"] != "conflict" {
		t.Errorf("Expected rate-2 to fail with a conflict, got %v", result.Failed)
	}
	if result.Failed[0]["current_state"] == nil {
		t.Error("Conflict failure should embed the current state")
	}

	// And the successful item stayed committed
	rec = perform(t, router, http.MethodGet, "/api/entities/rate/rate-1", nil)
	var rate map[string]any
	decode(t, rec, &rate)
	if rate["amount"] != "110" {
		t.Errorf("rate-1 should be committed at 110, got %v", rate["amount"])
	}
}
