package timeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProjectNotFound is returned when a referenced project doesn't exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrPhaseNotFound is returned when a referenced phase doesn't exist.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrLastPhase is returned when deleting the only remaining phase.
	ErrLastPhase = errors.New("cannot delete the last remaining phase")

	// ErrGapCreatingDeletion is returned when deleting a phase would leave
	// days of the project uncovered.
	ErrGapCreatingDeletion = errors.New("deletion would create a timeline gap")

	// ErrInvalidPhaseSet is returned when a proposed phase set fails
	// validation. The concrete error is always a *ValidationError.
	ErrInvalidPhaseSet = errors.New("invalid phase set")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the full validation context
// =============================================================================

// ValidationError rejects a proposed phase set. Nothing is persisted when
// it is returned; the caller corrects and resubmits.
type ValidationError struct {
	ProjectID string
	Errors    []Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid phase set for project %s: %d violation(s)", e.ProjectID, len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPhaseSet }

// LastPhaseError rejects deleting a project's only phase.
type LastPhaseError struct {
	ProjectID string
	PhaseID   string
}

func (e *LastPhaseError) Error() string {
	return fmt.Sprintf("phase %s is the only phase of project %s and cannot be deleted", e.PhaseID, e.ProjectID)
}

func (e *LastPhaseError) Unwrap() error { return ErrLastPhase }

// GapCreatingDeletionError rejects a deletion that would leave the project
// timeline discontinuous. Violations describe the resulting holes.
type GapCreatingDeletionError struct {
	ProjectID  string
	PhaseID    string
	Violations []Violation
}

func (e *GapCreatingDeletionError) Error() string {
	return fmt.Sprintf("deleting phase %s of project %s would break timeline continuity", e.PhaseID, e.ProjectID)
}

func (e *GapCreatingDeletionError) Unwrap() error { return ErrGapCreatingDeletion }

// IsClientError returns true if the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPhaseSet) ||
		errors.Is(err, ErrLastPhase) ||
		errors.Is(err, ErrGapCreatingDeletion)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrPhaseNotFound)
}
