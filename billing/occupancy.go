/*
occupancy.go - Present-day counting for one billing month

PURPOSE:
  Computes each tenant's billable present-day count from their tenancy
  interval and its break intervals, clipped to the month. This is the
  proration input for day-based cost division.

ALGORITHM:
  1. Clamp the tenancy to the month: [max(entry, monthStart), min(exit, monthEnd)]
  2. Count inclusive days (same-day start/end counts as 1)
  3. Clip each break to the clamped interval, drop empty clips
  4. Sort clips by start, merge where the next start <= the running end
  5. presentDays = max(0, basicDays - mergedBreakDays)

LENIENT-DATA POLICY:
  A nil tenancy end date means "ongoing": the exit is the month end.
  This is the single deliberate lenient default in the engine.

ACTIVE-TENANT PREDICATE:
  A tenant is billed at all only when their tenancy touches the month:
  entry <= monthEnd and (ongoing or exit >= monthStart). Inactive
  tenants receive zero lines, not zero-amount lines.
*/
package billing

import "sort"

// =============================================================================
// ACTIVE-TENANT PREDICATE
// =============================================================================

// IsActive reports whether the tenancy touches the month at all.
func IsActive(t Tenancy, month Month) bool {
	if t.Start.After(month.End()) {
		return false
	}
	if t.End == nil {
		return true
	}
	return t.End.AfterOrEqual(month.Start())
}

// =============================================================================
// PRESENT-DAY COUNT
// =============================================================================

// PresentDays computes the tenant's billable present days in the month:
// the inclusive day count of the tenancy clamped to the month, minus
// merged break days. Never negative.
func PresentDays(t Tenancy, month Month) int {
	exit := month.End()
	if t.End != nil {
		exit = *t.End
	}

	actualStart := MaxDate(t.Start, month.Start())
	actualEnd := MinDate(exit, month.End())

	basic := InclusiveDays(actualStart, actualEnd)
	if basic < 0 {
		basic = 0
	}
	if basic == 0 {
		return 0
	}

	// Clip breaks to the clamped interval; keep only non-empty clips.
	var clips []span
	for _, b := range t.Breaks {
		start := MaxDate(b.Start, actualStart)
		end := MinDate(b.End, actualEnd)
		if start.BeforeOrEqual(end) {
			clips = append(clips, span{start: start, end: end})
		}
	}

	present := basic - mergedDays(clips)
	if present < 0 {
		present = 0
	}
	return present
}

type span struct {
	start Date
	end   Date
}

// mergedDays merges overlapping clips and sums their inclusive day
// counts. Merging prevents overlapping breaks from double-subtracting.
func mergedDays(clips []span) int {
	if len(clips) == 0 {
		return 0
	}

	sort.Slice(clips, func(i, j int) bool {
		return clips[i].start.Before(clips[j].start)
	})

	merged := []span{clips[0]}
	for _, c := range clips[1:] {
		last := &merged[len(merged)-1]
		if c.start.BeforeOrEqual(last.end) {
			if c.end.After(last.end) {
				last.end = c.end
			}
			continue
		}
		merged = append(merged, c)
	}

	total := 0
	for _, m := range merged {
		total += InclusiveDays(m.start, m.end)
	}
	return total
}

// =============================================================================
// PER-PROPERTY OCCUPANCY SUMMARY
// =============================================================================

// OccupancySummary aggregates present days over a property's tenants
// for one month. Active is sorted for deterministic line ordering.
type OccupancySummary struct {
	Active          []TenantID
	Days            map[TenantID]int
	Headcount       int
	TotalPersonDays int
}

// ComputeOccupancy runs the active predicate and present-day count over
// every tenancy of a property.
func ComputeOccupancy(tenancies []Tenancy, month Month) OccupancySummary {
	summary := OccupancySummary{Days: make(map[TenantID]int)}

	for _, t := range tenancies {
		if !IsActive(t, month) {
			continue
		}
		days := PresentDays(t, month)
		summary.Active = append(summary.Active, t.TenantID)
		summary.Days[t.TenantID] = days
		summary.TotalPersonDays += days
	}
	summary.Headcount = len(summary.Active)

	sort.Slice(summary.Active, func(i, j int) bool {
		return summary.Active[i] < summary.Active[j]
	})
	return summary
}
