/*
handlers.go - HTTP API handlers for the portfolio timeline engine

PURPOSE:
  Exposes the phase timeline service and the versioned entity store via
  REST. Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Projects:
    GET    /api/projects                      List projects
    POST   /api/projects                      Create project (+ default phase)
    GET    /api/projects/{id}                 Get project
    PUT    /api/projects/{id}                 Versioned update (may auto-sync
                                              the single default phase)
    DELETE /api/projects/{id}                 Delete project and its phases

  Phases:
    GET    /api/projects/{id}/phases          List phases
    PUT    /api/projects/{id}/phases          Atomic full replacement
    POST   /api/projects/{id}/phases/validate Dry-run validation
    GET    /api/projects/{id}/phases/at       Phase containing ?date=
    DELETE /api/projects/{id}/phases/{phaseID}
    GET    /api/projects/{id}/phases/{phaseID}/assignments

  Entities (uniform across all 13 versioned kinds; project and phase
  mutations are rejected here and go through the project endpoints):
    GET    /api/entities/{kind}               List
    POST   /api/entities/{kind}               Create (version starts at 1)
    GET    /api/entities/{kind}/{id}          Get
    PUT    /api/entities/{kind}/{id}          Versioned merge-patch update
    DELETE /api/entities/{kind}/{id}          Delete
    POST   /api/entities/{kind}/bulk          Partial-success bulk update

  Admin:
    POST   /api/reset                         Database reset (dev only)

ERROR HANDLING:
  - 400: invalid input, last-phase or gap-creating deletion
  - 404: missing project/phase/entity
  - 409: version conflict, body carries the entity's current state
  - 422: phase set validation failure, body carries every violation
  - 500: internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/portfolio-engine/store/sqlite"
	"github.com/warp/portfolio-engine/timeline"
	"github.com/warp/portfolio-engine/versioned"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Phases *timeline.Service
	Writer *versioned.Writer
	Bulk   *versioned.Bulk
}

// NewHandler creates a new handler wired to the given store. A nil audit
// sink logs conflict events through the standard logger.
func NewHandler(store *sqlite.Store, audit versioned.AuditSink) *Handler {
	if audit == nil {
		audit = LogAuditSink{}
	}
	writer := versioned.NewWriter(store, audit)
	return &Handler{
		Store:  store,
		Phases: timeline.NewService(store, store, store),
		Writer: writer,
		Bulk:   versioned.NewBulk(writer),
	}
}

// LogAuditSink emits conflict events to the process log. The real audit
// collaborator lives outside this core.
type LogAuditSink struct{}

func (LogAuditSink) ConflictDetected(_ context.Context, e versioned.ConflictEvent) {
	log.Printf("conflict: %s %s expected v%d actual v%d actor=%s",
		e.EntityType, e.EntityID, e.ExpectedVersion, e.ActualVersion, e.ActorID)
}

// actorID is supplied by the (excluded) auth layer, never derived here.
func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

// projectPayload is the stored shape of a project: id and version live in
// the entity store's own columns.
type projectPayload struct {
	Name      string        `json:"name"`
	StartDate timeline.Date `json:"start_date"`
	EndDate   timeline.Date `json:"end_date"`
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.List(r.Context(), versioned.KindProject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, 0, len(recs))
	for _, rec := range recs {
		var p projectPayload
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			writeError(w, http.StatusInternalServerError, "Malformed project record", err)
			return
		}
		dtos = append(dtos, ProjectDTO{
			ID:        rec.ID,
			Name:      p.Name,
			StartDate: p.StartDate.String(),
			EndDate:   p.EndDate.String(),
			Version:   rec.Version,
		})
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.Store.ProjectByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(project))
}

// CreateProject creates a project and its default phase spanning the whole
// project range.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	payload, err := projectPayloadFromRequest(req.Name, req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	data, _ := json.Marshal(payload)
	ctx := r.Context()
	rec, err := h.Store.Create(ctx, versioned.KindProject, id, data)
	if err != nil {
		writeError(w, http.StatusConflict, "Failed to create project", err)
		return
	}

	project := timeline.Project{
		ID:        rec.ID,
		Name:      payload.Name,
		StartDate: payload.StartDate,
		EndDate:   payload.EndDate,
		Version:   rec.Version,
	}
	phase, err := h.Phases.CreateDefaultPhase(ctx, project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create default phase", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateProjectResponse{
		Project:      toProjectDTO(project),
		DefaultPhase: phase,
	})
}

// UpdateProject applies a versioned update. If the project's dates changed
// and it still has exactly one phase, that phase is resynchronized.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payload, err := projectPayloadFromRequest(req.Name, req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx := r.Context()
	prev, err := h.Store.ProjectByID(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	data, _ := json.Marshal(payload)
	rec, err := h.Writer.Apply(ctx, versioned.KindProject, id, req.Version, data, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	project := timeline.Project{
		ID:        rec.ID,
		Name:      payload.Name,
		StartDate: payload.StartDate,
		EndDate:   payload.EndDate,
		Version:   rec.Version,
	}

	resp := UpdateProjectResponse{Project: toProjectDTO(project)}
	datesChanged := !prev.StartDate.Equal(project.StartDate) || !prev.EndDate.Equal(project.EndDate)
	if datesChanged {
		synced, err := h.Phases.SyncDefaultPhaseOnProjectDateChange(ctx, project)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to sync default phase", err)
			return
		}
		resp.SyncedPhase = synced
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteProject removes a project and its phases.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	phases, err := h.Store.PhasesByProject(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load phases", err)
		return
	}
	for _, p := range phases {
		if err := h.Store.Delete(ctx, versioned.KindPhase, p.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to delete phase", err)
			return
		}
	}
	if err := h.Store.Delete(ctx, versioned.KindProject, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func projectPayloadFromRequest(name, startDate, endDate string) (projectPayload, error) {
	if name == "" {
		return projectPayload{}, fmt.Errorf("name is required")
	}
	start, err := timeline.ParseDate(startDate)
	if err != nil {
		return projectPayload{}, fmt.Errorf("invalid start_date: %v", err)
	}
	end, err := timeline.ParseDate(endDate)
	if err != nil {
		return projectPayload{}, fmt.Errorf("invalid end_date: %v", err)
	}
	if start.After(end) {
		return projectPayload{}, fmt.Errorf("start_date %s is after end_date %s", start, end)
	}
	return projectPayload{Name: name, StartDate: start, EndDate: end}, nil
}

// =============================================================================
// PHASE HANDLERS
// =============================================================================

// ListPhases returns a project's phases ordered by start date.
func (h *Handler) ListPhases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "id")

	if _, err := h.Store.ProjectByID(ctx, projectID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	phases, err := h.Store.PhasesByProject(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list phases", err)
		return
	}
	if phases == nil {
		phases = []timeline.Phase{}
	}
	writeJSON(w, http.StatusOK, phases)
}

// ReplacePhases atomically replaces a project's phase set.
// PUT /api/projects/{id}/phases
func (h *Handler) ReplacePhases(w http.ResponseWriter, r *http.Request) {
	var req ReplacePhasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	phases, err := h.Phases.ReplacePhases(r.Context(), chi.URLParam(r, "id"), req.Phases)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

// ValidatePhases dry-runs a replacement set. Invalid sets are a 200 with
// the structured verdict, not an error: this backs live UI validation.
// POST /api/projects/{id}/phases/validate
func (h *Handler) ValidatePhases(w http.ResponseWriter, r *http.Request) {
	var req ReplacePhasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Phases.ValidateReplacement(r.Context(), chi.URLParam(r, "id"), req.Phases)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if result.Errors == nil {
		result.Errors = []timeline.Violation{}
	}
	writeJSON(w, http.StatusOK, ValidationResponse{IsValid: result.IsValid, Errors: result.Errors})
}

// DeletePhase removes a single phase when continuity survives.
func (h *Handler) DeletePhase(w http.ResponseWriter, r *http.Request) {
	err := h.Phases.DeletePhase(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "phaseID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PhaseForDate returns the unique phase containing ?date=YYYY-MM-DD.
func (h *Handler) PhaseForDate(w http.ResponseWriter, r *http.Request) {
	date, err := timeline.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing date parameter", err)
		return
	}

	ctx := r.Context()
	projectID := chi.URLParam(r, "id")
	if _, err := h.Store.ProjectByID(ctx, projectID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	phase, err := h.Phases.PhaseForDate(ctx, projectID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve phase", err)
		return
	}
	if phase == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No phase contains %s", date), nil)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

// PhaseAssignments returns the assignments falling inside a phase's date
// range. Membership is date containment; there is no phase foreign key on
// assignments.
func (h *Handler) PhaseAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "id")
	phaseID := chi.URLParam(r, "phaseID")

	phases, err := h.Store.PhasesByProject(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load phases", err)
		return
	}
	for _, p := range phases {
		if p.ID != phaseID {
			continue
		}
		assignments, err := h.Phases.AssignmentsInPhase(ctx, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load assignments", err)
			return
		}
		if assignments == nil {
			assignments = []timeline.Assignment{}
		}
		writeJSON(w, http.StatusOK, assignments)
		return
	}
	writeError(w, http.StatusNotFound, "Phase not found", nil)
}

// =============================================================================
// GENERIC ENTITY HANDLERS
// =============================================================================

func entityKind(w http.ResponseWriter, r *http.Request) (versioned.Kind, bool) {
	kind, err := versioned.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return "", false
	}
	return kind, true
}

// entityMutationKind additionally rejects the kinds whose writes must go
// through the project endpoints. A generic write to a phase would bypass
// phase-set validation and break timeline continuity; a generic write to a
// project would skip default-phase creation and the single-phase date sync.
// Reads stay open for every kind.
func entityMutationKind(w http.ResponseWriter, r *http.Request) (versioned.Kind, bool) {
	kind, ok := entityKind(w, r)
	if !ok {
		return "", false
	}
	if kind == versioned.KindProject || kind == versioned.KindPhase {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("%s entities are managed through the /api/projects endpoints", kind),
			Code:  "timeline_managed",
		})
		return "", false
	}
	return kind, true
}

// ListEntities returns all entities of a kind.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}
	recs, err := h.Store.List(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entities", err)
		return
	}
	if recs == nil {
		recs = []versioned.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// CreateEntity creates an entity at version 1. The body is the entity
// payload; an "id" member is honored, "version" is ignored.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityMutationKind(w, r)
	if !ok {
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, _ := body["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	delete(body, "id")
	delete(body, "version")

	data, _ := json.Marshal(body)
	rec, err := h.Store.Create(r.Context(), kind, id, data)
	if err != nil {
		writeError(w, http.StatusConflict, "Failed to create entity", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetEntity returns one entity snapshot.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityKind(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateEntity applies a versioned merge-patch update. A stale version is
// a 409 carrying the entity's current state.
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityMutationKind(w, r)
	if !ok {
		return
	}

	var req UpdateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Patch) == 0 {
		writeError(w, http.StatusBadRequest, "patch is required", nil)
		return
	}

	rec, err := h.Writer.ApplyPatch(r.Context(), kind, chi.URLParam(r, "id"),
		req.ExpectedVersion, req.Patch, actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteEntity removes one entity.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityMutationKind(w, r)
	if !ok {
		return
	}
	if err := h.Store.Delete(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkUpdateEntities applies a batch of independent versioned updates.
// Always a 200: per-item failures live in the result's failed list, and
// succeeded items are committed regardless.
// POST /api/entities/{kind}/bulk
func (h *Handler) BulkUpdateEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := entityMutationKind(w, r)
	if !ok {
		return
	}

	var req BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result := h.Bulk.BulkUpdate(r.Context(), kind, req.Items, actorID(r))
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears all data. Dev/demo only; there is no undo.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors to status codes. Each rejection type
// gets its own code so clients can react specifically.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	if ce, ok := versioned.IsConflict(err); ok {
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:        "conflict",
			Message:      ce.Message,
			EntityType:   string(ce.EntityType),
			EntityID:     ce.EntityID,
			CurrentState: ce.CurrentState,
		})
		return
	}

	var ve *timeline.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "validation_failed",
			Errors: ve.Errors,
		})
		return
	}

	var ge *timeline.GapCreatingDeletionError
	if errors.As(err, &ge) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   ge.Error(),
			Code:    "gap_creating_deletion",
			Details: ge.Violations,
		})
		return
	}

	var le *timeline.LastPhaseError
	if errors.As(err, &le) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: le.Error(),
			Code:  "last_phase",
		})
		return
	}

	if timeline.IsNotFound(err) || errors.Is(err, versioned.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}

	writeError(w, http.StatusInternalServerError, "Internal error", err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
