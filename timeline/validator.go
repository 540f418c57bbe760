package timeline

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// PHASE VALIDATOR - Exhaustive validation of a candidate phase set
// =============================================================================

// Violation is a single validation failure, attributable to a field and,
// where relevant, a specific phase.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	PhaseID string `json:"phase_id,omitempty"`
}

// ValidationResult is the verdict over a full candidate phase set.
// Validation is exhaustive: every violation is collected, never fail-fast.
type ValidationResult struct {
	IsValid bool        `json:"is_valid"`
	Errors  []Violation `json:"errors"`
}

func (r *ValidationResult) add(field, message, phaseID string) {
	r.Errors = append(r.Errors, Violation{Field: field, Message: message, PhaseID: phaseID})
}

// Validate checks that candidates form a continuous, non-overlapping
// partition of [projectStart, projectEnd] and that each phase is
// structurally sound. excludeID, when non-empty, removes that phase from
// the set first; this is how deletion candidates are checked.
//
// Invalid input is a normal return value, not an error: callers such as a
// dry-run validation endpoint need the structured verdict.
func Validate(projectStart, projectEnd Date, candidates []Phase, excludeID string) ValidationResult {
	result := ValidationResult{}

	phases := make([]Phase, 0, len(candidates))
	for _, p := range candidates {
		if excludeID != "" && p.ID == excludeID {
			continue
		}
		phases = append(phases, p)
	}

	// A project must always retain at least one phase.
	if len(phases) == 0 {
		result.add("phases", "a project must have at least one phase", "")
		return result
	}

	for _, p := range phases {
		validateStructure(&result, projectStart, projectEnd, p)
	}

	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].StartDate.Before(phases[j].StartDate)
	})

	first, last := phases[0], phases[len(phases)-1]
	if !first.StartDate.Equal(projectStart) {
		result.add("start_date",
			fmt.Sprintf("phases do not cover the project start: first phase %q begins %s but the project begins %s",
				first.Name, first.StartDate, projectStart),
			first.ID)
	}
	if !last.EndDate.Equal(projectEnd) {
		result.add("end_date",
			fmt.Sprintf("phases do not cover the project end: last phase %q ends %s but the project ends %s",
				last.Name, last.EndDate, projectEnd),
			last.ID)
	}

	for i := 1; i < len(phases); i++ {
		prior, next := phases[i-1], phases[i]
		switch {
		case next.StartDate.After(prior.EndDate.AddDays(1)):
			result.add("start_date",
				fmt.Sprintf("gap between phase %q and phase %q: %s..%s is not covered",
					prior.Name, next.Name, prior.EndDate.AddDays(1), next.StartDate.AddDays(-1)),
				next.ID)
		case next.StartDate.BeforeOrEqual(prior.EndDate):
			result.add("start_date",
				fmt.Sprintf("phase %q overlaps phase %q: %q starts %s before %q ends %s",
					prior.Name, next.Name, next.Name, next.StartDate, prior.Name, prior.EndDate),
				next.ID)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// validateStructure checks the per-phase rules that do not depend on other
// phases.
func validateStructure(result *ValidationResult, projectStart, projectEnd Date, p Phase) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		result.add("name", "phase name must not be empty", p.ID)
	} else if len(p.Name) > MaxPhaseNameLength {
		result.add("name",
			fmt.Sprintf("phase name must be at most %d characters", MaxPhaseNameLength), p.ID)
	}

	if p.StartDate.After(p.EndDate) {
		result.add("end_date",
			fmt.Sprintf("phase %q ends %s before it starts %s", p.Name, p.EndDate, p.StartDate),
			p.ID)
	}
	project := Interval{Start: projectStart, End: projectEnd}
	if !project.ContainsInterval(p.Interval()) {
		if p.StartDate.Before(projectStart) {
			result.add("start_date",
				fmt.Sprintf("phase %q starts %s before the project start %s", p.Name, p.StartDate, projectStart),
				p.ID)
		}
		if p.EndDate.After(projectEnd) {
			result.add("end_date",
				fmt.Sprintf("phase %q ends %s after the project end %s", p.Name, p.EndDate, projectEnd),
				p.ID)
		}
	}

	if p.CapitalBudget.IsNegative() {
		result.add("capital_budget", fmt.Sprintf("phase %q capital budget must not be negative", p.Name), p.ID)
	}
	if p.ExpenseBudget.IsNegative() {
		result.add("expense_budget", fmt.Sprintf("phase %q expense budget must not be negative", p.Name), p.ID)
	}
	// Budgets are currency amounts: the split must reconcile exactly.
	if !p.BudgetsReconcile() {
		result.add("total_budget",
			fmt.Sprintf("phase %q total budget %s does not equal capital %s + expense %s",
				p.Name, p.TotalBudget, p.CapitalBudget, p.ExpenseBudget),
			p.ID)
	}
}
