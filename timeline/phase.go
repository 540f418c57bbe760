/*
Package timeline maintains the phase partition of a project's date range.

PURPOSE:
  A project's phases must form a continuous, non-overlapping partition of
  the project's [start, end] range: every day covered exactly once. This
  package holds the pure interval math, the exhaustive validator, and the
  mutation service that is the sole writer of a project's phase set.

KEY CONCEPTS:
  - Date/Interval: day-granularity calendar math (date.go, interval.go)
  - Phase: a named sub-interval with its own budget split (this file)
  - Validator: full-set validation, invalidity as a value (validator.go)
  - Service: atomic replace, default phase lifecycle, gap-safe deletion
    (service.go)

DESIGN PRINCIPLES:
  1. Precision: budgets use decimal.Decimal; reconciliation is exact, never
     epsilon-based.
  2. Invalidity is data: the validator returns every violation at once so a
     client can surface all of them in a single round trip.
  3. Phases own no assignments: assignment membership is derived by date
     containment, so restructuring phases never rewrites assignment records.
*/
package timeline

import (
	"github.com/shopspring/decimal"
)

// MaxPhaseNameLength bounds phase names.
const MaxPhaseNameLength = 100

// DefaultPhaseName is the name given to the single phase auto-created with
// a project.
const DefaultPhaseName = "Default Phase"

// Phase is a named date sub-interval of a project with its own budget
// allocation. ID is empty for a phase that has not been persisted yet.
type Phase struct {
	ID            string          `json:"id,omitempty"`
	ProjectID     string          `json:"project_id"`
	Name          string          `json:"name"`
	StartDate     Date            `json:"start_date"`
	EndDate       Date            `json:"end_date"`
	Description   string          `json:"description,omitempty"`
	CapitalBudget decimal.Decimal `json:"capital_budget"`
	ExpenseBudget decimal.Decimal `json:"expense_budget"`
	TotalBudget   decimal.Decimal `json:"total_budget"`
	Version       int64           `json:"version,omitempty"`
}

// Interval returns the phase's date range keyed by its ID.
func (p Phase) Interval() Interval {
	return Interval{ID: p.ID, Start: p.StartDate, End: p.EndDate}
}

// Contains reports whether the date falls within the phase.
func (p Phase) Contains(d Date) bool {
	return p.Interval().Contains(d)
}

// BudgetsReconcile reports whether total equals capital + expense exactly.
func (p Phase) BudgetsReconcile() bool {
	return p.TotalBudget.Equal(p.CapitalBudget.Add(p.ExpenseBudget))
}

// Project is the read-only view of a project the timeline logic needs.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
	Version   int64  `json:"version"`
}

// Assignment is a dated unit of resource work belonging to a project.
// Assignments associate with phases by date containment, not by foreign key.
type Assignment struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	ResourceID string          `json:"resource_id"`
	Date       Date            `json:"date"`
	Hours      decimal.Decimal `json:"hours"`
	Version    int64           `json:"version,omitempty"`
}
