package timeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE INTERFACES - Implemented by the persistence layer
// =============================================================================

// ProjectLookup provides read-only access to a project's identity and date
// range.
type ProjectLookup interface {
	// ProjectByID returns the project or ErrProjectNotFound.
	ProjectByID(ctx context.Context, id string) (Project, error)
}

// PhaseStore persists a project's phase set. ReplacePhaseSet is atomic:
// every upsert and deletion commits together or not at all. Upserts carrying
// a version are conditional on that version; a stale version fails the whole
// replacement. Implementations re-validate the resulting set against the
// project's date range inside the transaction, so a replacement built from
// a stale snapshot cannot commit a discontinuous set.
type PhaseStore interface {
	// PhasesByProject returns all phases of a project ordered by start date.
	PhasesByProject(ctx context.Context, projectID string) ([]Phase, error)

	// ReplacePhaseSet applies creations, updates, and deletions in one
	// transaction and returns the resulting phase set.
	ReplacePhaseSet(ctx context.Context, projectID string, upserts []Phase, deleteIDs []string) ([]Phase, error)
}

// AssignmentSource is the read-only assignment collaborator. Assignments
// relate to phases by date containment only, so this is a range query, not
// a foreign-key walk.
type AssignmentSource interface {
	AssignmentsInRange(ctx context.Context, projectID string, from, to Date) ([]Assignment, error)
}

// =============================================================================
// PHASE MUTATION SERVICE - Sole writer of a project's phase set
// =============================================================================

// Service orchestrates every mutation of a project's phases. All mutating
// operations validate the complete proposed end state before any write; on
// violation nothing is persisted.
type Service struct {
	projects    ProjectLookup
	phases      PhaseStore
	assignments AssignmentSource
}

// NewService creates a phase mutation service.
func NewService(projects ProjectLookup, phases PhaseStore, assignments AssignmentSource) *Service {
	return &Service{projects: projects, phases: phases, assignments: assignments}
}

// ReplacePhases applies a full replacement of a project's phase set.
// Candidates with a known phase ID update that phase, candidates with an
// empty or unknown ID are creations, and existing phases absent from the
// candidates are deletions. The whole replacement is atomic: if the
// candidate set is invalid a *ValidationError is returned and nothing is
// written.
func (s *Service) ReplacePhases(ctx context.Context, projectID string, candidates []Phase) ([]Phase, error) {
	project, err := s.projects.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	current, err := s.phases.PhasesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	next := make([]Phase, len(candidates))
	kept := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		c.ProjectID = projectID
		next[i] = c
		if c.ID != "" {
			kept[c.ID] = true
		}
	}

	if verdict := Validate(project.StartDate, project.EndDate, next, ""); !verdict.IsValid {
		return nil, &ValidationError{ProjectID: projectID, Errors: verdict.Errors}
	}

	var deleteIDs []string
	for _, p := range current {
		if !kept[p.ID] {
			deleteIDs = append(deleteIDs, p.ID)
		}
	}
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = uuid.NewString()
		}
	}

	return s.phases.ReplacePhaseSet(ctx, projectID, next, deleteIDs)
}

// ValidateReplacement is the dry-run counterpart of ReplacePhases: it builds
// the same candidate set and returns the structured verdict without writing.
func (s *Service) ValidateReplacement(ctx context.Context, projectID string, candidates []Phase) (ValidationResult, error) {
	project, err := s.projects.ProjectByID(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}
	next := make([]Phase, len(candidates))
	for i, c := range candidates {
		c.ProjectID = projectID
		next[i] = c
	}
	return Validate(project.StartDate, project.EndDate, next, ""), nil
}

// CreateDefaultPhase creates the single phase every new project starts
// with: named "Default Phase", spanning the whole project, all budgets zero.
func (s *Service) CreateDefaultPhase(ctx context.Context, project Project) (Phase, error) {
	phase := Phase{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		Name:          DefaultPhaseName,
		StartDate:     project.StartDate,
		EndDate:       project.EndDate,
		CapitalBudget: decimal.Zero,
		ExpenseBudget: decimal.Zero,
		TotalBudget:   decimal.Zero,
	}
	persisted, err := s.phases.ReplacePhaseSet(ctx, project.ID, []Phase{phase}, nil)
	if err != nil {
		return Phase{}, err
	}
	return persisted[0], nil
}

// SyncDefaultPhaseOnProjectDateChange resynchronizes the phase boundaries
// after the project's own dates moved. It fires if and only if the project
// still has exactly one phase: a second phase ever having been introduced
// means the user took manual control, and the count (not the phase's name
// or identity) is the signal for that.
func (s *Service) SyncDefaultPhaseOnProjectDateChange(ctx context.Context, project Project) (*Phase, error) {
	phases, err := s.phases.PhasesByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if len(phases) != 1 {
		return nil, nil
	}

	phase := phases[0]
	if phase.StartDate.Equal(project.StartDate) && phase.EndDate.Equal(project.EndDate) {
		return &phase, nil
	}
	phase.StartDate = project.StartDate
	phase.EndDate = project.EndDate

	persisted, err := s.phases.ReplacePhaseSet(ctx, project.ID, []Phase{phase}, nil)
	if err != nil {
		return nil, err
	}
	return &persisted[0], nil
}

// DeletePhase removes a single phase. It fails with *LastPhaseError for the
// only remaining phase and with *GapCreatingDeletionError when the
// remaining set would not stay continuous. Restructuring a timeline is
// normally done through ReplacePhases, which can widen a neighbor in the
// same transaction.
func (s *Service) DeletePhase(ctx context.Context, projectID, phaseID string) error {
	project, err := s.projects.ProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	phases, err := s.phases.PhasesByProject(ctx, projectID)
	if err != nil {
		return err
	}

	found := false
	for _, p := range phases {
		if p.ID == phaseID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("phase %s in project %s: %w", phaseID, projectID, ErrPhaseNotFound)
	}
	if len(phases) == 1 {
		return &LastPhaseError{ProjectID: projectID, PhaseID: phaseID}
	}

	verdict := Validate(project.StartDate, project.EndDate, phases, phaseID)
	if !verdict.IsValid {
		return &GapCreatingDeletionError{ProjectID: projectID, PhaseID: phaseID, Violations: verdict.Errors}
	}

	_, err = s.phases.ReplacePhaseSet(ctx, projectID, nil, []string{phaseID})
	return err
}

// PhaseForDate returns the unique phase containing the date, or nil when the
// date falls outside the project range. Uniqueness is guaranteed by the
// continuity invariant once the set has been committed.
func (s *Service) PhaseForDate(ctx context.Context, projectID string, date Date) (*Phase, error) {
	phases, err := s.phases.PhasesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, p := range phases {
		if p.Contains(date) {
			phase := p
			return &phase, nil
		}
	}
	return nil, nil
}

// AssignmentsInPhase returns the project's assignments whose date falls
// within the phase. Membership is purely date containment, so phase
// restructuring never orphans or rewrites assignment records.
func (s *Service) AssignmentsInPhase(ctx context.Context, phase Phase) ([]Assignment, error) {
	return s.assignments.AssignmentsInRange(ctx, phase.ProjectID, phase.StartDate, phase.EndDate)
}
