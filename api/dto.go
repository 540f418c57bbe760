/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
  - timeline/phase.go: Phase/Project domain shapes
  - versioned/bulk.go: BulkItem/BulkWriteResult wire shapes
*/
package api

import (
	"encoding/json"

	"github.com/warp/portfolio-engine/timeline"
	"github.com/warp/portfolio-engine/versioned"
)

// =============================================================================
// PROJECT TYPES
// =============================================================================

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Version   int64  `json:"version"`
}

// CreateProjectRequest is the request to create a project. The default
// phase is created with it.
type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// UpdateProjectRequest is a versioned full update of a project.
type UpdateProjectRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Version   int64  `json:"version"`
}

// CreateProjectResponse returns the project together with its auto-created
// default phase.
type CreateProjectResponse struct {
	Project      ProjectDTO     `json:"project"`
	DefaultPhase timeline.Phase `json:"default_phase"`
}

// UpdateProjectResponse returns the updated project; SyncedPhase is present
// when the single-phase auto-sync fired.
type UpdateProjectResponse struct {
	Project     ProjectDTO      `json:"project"`
	SyncedPhase *timeline.Phase `json:"synced_phase,omitempty"`
}

// =============================================================================
// PHASE TYPES
// =============================================================================

// ReplacePhasesRequest is the full replacement set for a project's phases.
// Phases carrying an id update (and must carry the caller's version);
// phases without an id are creations; existing phases left out are deleted.
type ReplacePhasesRequest struct {
	Phases []timeline.Phase `json:"phases"`
}

// ValidationResponse is the dry-run verdict for a candidate phase set.
type ValidationResponse struct {
	IsValid bool                 `json:"is_valid"`
	Errors  []timeline.Violation `json:"errors"`
}

// =============================================================================
// GENERIC ENTITY TYPES
// =============================================================================

// UpdateEntityRequest is a versioned update of any entity kind. Patch is a
// JSON merge patch applied to the current payload.
type UpdateEntityRequest struct {
	ExpectedVersion int64           `json:"expected_version"`
	Patch           json.RawMessage `json:"patch"`
}

// BulkUpdateRequest is a batch of independent versioned updates.
type BulkUpdateRequest struct {
	Items []versioned.BulkItem `json:"items"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ConflictResponse is the 409 body for a stale write. CurrentState is the
// full entity snapshot including its up-to-date version.
type ConflictResponse struct {
	Error        string           `json:"error"`
	Message      string           `json:"message"`
	EntityType   string           `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	CurrentState versioned.Record `json:"current_state"`
}

// ValidationErrorResponse is the 422 body for a rejected phase set.
type ValidationErrorResponse struct {
	Error  string               `json:"error"`
	Errors []timeline.Violation `json:"errors"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProjectDTO(p timeline.Project) ProjectDTO {
	return ProjectDTO{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: p.StartDate.String(),
		EndDate:   p.EndDate.String(),
		Version:   p.Version,
	}
}
