package timeline

import "sort"

// =============================================================================
// INTERVAL MATH - Gap and overlap detection over sorted interval sets
// =============================================================================

// Gap is an uncovered day range inside an outer interval.
type Gap struct {
	Start Date
	End   Date
}

// OverlapPair names two intervals that share at least one day. A precedes B
// by start date.
type OverlapPair struct {
	A string
	B string
}

// Gaps returns every missing day range in [outerStart, outerEnd] not covered
// by any interval, including a leading gap before the first interval and a
// trailing gap after the last. An empty interval set yields the entire outer
// range as one gap. Intervals ending the day before the next starts are
// exactly continuous and produce no gap.
func Gaps(intervals []Interval, outerStart, outerEnd Date) []Gap {
	sorted := sortByStart(intervals)

	var gaps []Gap
	// cursor is the first day not yet known to be covered.
	cursor := outerStart
	for _, iv := range sorted {
		if iv.Start.After(outerEnd) {
			break
		}
		if iv.Start.After(cursor) {
			gaps = append(gaps, Gap{Start: cursor, End: iv.Start.AddDays(-1)})
		}
		if next := iv.End.AddDays(1); next.After(cursor) {
			cursor = next
		}
	}
	if cursor.BeforeOrEqual(outerEnd) {
		gaps = append(gaps, Gap{Start: cursor, End: outerEnd})
	}
	return gaps
}

// Overlaps returns the pairs of intervals sharing at least one day, each
// reported as (earlier-starting, later-starting). The sweep tracks the
// furthest-reaching interval seen so far, not just the immediate
// predecessor, so an interval spanning past its successor is paired with
// every later interval it covers. Adjacent intervals (A ends the day before
// B starts) do not overlap. One pass after the sort, O(n log n) overall.
func Overlaps(intervals []Interval) []OverlapPair {
	sorted := sortByStart(intervals)
	if len(sorted) == 0 {
		return nil
	}

	var pairs []OverlapPair
	reach := sorted[0]
	for i := 1; i < len(sorted); i++ {
		if reach.End.AfterOrEqual(sorted[i].Start) {
			pairs = append(pairs, OverlapPair{A: reach.ID, B: sorted[i].ID})
		}
		if sorted[i].End.After(reach.End) {
			reach = sorted[i]
		}
	}
	return pairs
}

func sortByStart(intervals []Interval) []Interval {
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return sorted
}
