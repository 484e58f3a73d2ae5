package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/billing-engine/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(t *testing.T, s string) billing.Date {
	t.Helper()
	d, err := billing.ParseDate(s)
	require.NoError(t, err)
	return d
}

func datePtr(t *testing.T, s string) *billing.Date {
	t.Helper()
	d := date(t, s)
	return &d
}

func month(t *testing.T, s string) billing.Month {
	t.Helper()
	m, err := billing.ParseMonth(s)
	require.NoError(t, err)
	return m
}

// =============================================================================
// PRESENT-DAY COUNT
// =============================================================================

func TestPresentDays_MidMonthEntry_Ongoing(t *testing.T) {
	// GIVEN: Tenancy starts Jan 10, no end date, no breaks
	// WHEN: Counting present days for January (31 days)
	// THEN: Jan 10 through Jan 31 inclusive = 22 days

	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2024-01-10"),
	}

	assert.Equal(t, 22, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_BreakSubtracted(t *testing.T) {
	// GIVEN: Same tenancy plus a break Jan 15-17 (3 inclusive days)
	// WHEN: Counting present days for January
	// THEN: 22 - 3 = 19 days

	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2024-01-10"),
		Breaks: []billing.BreakInterval{
			{Start: date(t, "2024-01-15"), End: date(t, "2024-01-17")},
		},
	}

	assert.Equal(t, 19, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_OverlappingBreaks_MergedOnce(t *testing.T) {
	// GIVEN: Two overlapping breaks Jan 10-15 and Jan 13-18
	// WHEN: Counting present days for a full-month tenancy
	// THEN: The merged span Jan 10-18 (9 days) is subtracted once, not twice

	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2023-12-01"),
		Breaks: []billing.BreakInterval{
			{Start: date(t, "2024-01-10"), End: date(t, "2024-01-15")},
			{Start: date(t, "2024-01-13"), End: date(t, "2024-01-18")},
		},
	}

	assert.Equal(t, 31-9, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_BreakOutsideMonth_Ignored(t *testing.T) {
	// GIVEN: A break entirely in February
	// WHEN: Counting January
	// THEN: The break does not reduce January's count

	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2024-01-01"),
		Breaks: []billing.BreakInterval{
			{Start: date(t, "2024-02-05"), End: date(t, "2024-02-10")},
		},
	}

	assert.Equal(t, 31, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_BreakCoversWholeStay_Zero(t *testing.T) {
	// GIVEN: A break covering the entire month
	// WHEN: Counting present days
	// THEN: Zero, never negative

	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2024-01-01"),
		Breaks: []billing.BreakInterval{
			{Start: date(t, "2023-12-20"), End: date(t, "2024-02-10")},
		},
	}

	assert.Equal(t, 0, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_SingleDayStay(t *testing.T) {
	// Same-day start and end counts as one day.
	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2024-01-15"),
		End:      datePtr(t, "2024-01-15"),
	}

	assert.Equal(t, 1, billing.PresentDays(tenancy, month(t, "2024-01")))
}

func TestPresentDays_BoundedByMonthLength(t *testing.T) {
	// 0 <= presentDays <= daysInMonth for any clamped tenancy.
	tenancy := billing.Tenancy{
		TenantID: "alice",
		Start:    date(t, "2023-06-01"),
	}

	feb := month(t, "2024-02")
	days := billing.PresentDays(tenancy, feb)
	assert.GreaterOrEqual(t, days, 0)
	assert.LessOrEqual(t, days, feb.Days())
	assert.Equal(t, 29, days, "2024 is a leap year")
}

// =============================================================================
// ACTIVE-TENANT PREDICATE
// =============================================================================

func TestIsActive(t *testing.T) {
	jan := month(t, "2024-01")

	tests := []struct {
		name   string
		start  string
		end    string
		active bool
	}{
		{"ongoing from before", "2023-06-01", "", true},
		{"starts mid-month", "2024-01-20", "", true},
		{"starts after month", "2024-02-01", "", false},
		{"ended before month", "2023-06-01", "2023-12-31", false},
		{"ends on month start", "2023-06-01", "2024-01-01", true},
		{"fully inside month", "2024-01-05", "2024-01-20", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenancy := billing.Tenancy{TenantID: "x", Start: date(t, tt.start)}
			if tt.end != "" {
				tenancy.End = datePtr(t, tt.end)
			}
			assert.Equal(t, tt.active, billing.IsActive(tenancy, jan))
		})
	}
}

// =============================================================================
// OCCUPANCY SUMMARY
// =============================================================================

func TestComputeOccupancy_SortsAndAggregates(t *testing.T) {
	// GIVEN: Two active tenants (out of order) and one inactive
	// WHEN: Computing the summary for January
	// THEN: Active list is sorted, inactive tenant is absent entirely

	tenancies := []billing.Tenancy{
		{TenantID: "bob", Start: date(t, "2024-01-01")},
		{TenantID: "alice", Start: date(t, "2024-01-10")},
		{TenantID: "gone", Start: date(t, "2023-01-01"), End: datePtr(t, "2023-06-30")},
	}

	occ := billing.ComputeOccupancy(tenancies, month(t, "2024-01"))

	assert.Equal(t, []billing.TenantID{"alice", "bob"}, occ.Active)
	assert.Equal(t, 2, occ.Headcount)
	assert.Equal(t, 22, occ.Days["alice"])
	assert.Equal(t, 31, occ.Days["bob"])
	assert.Equal(t, 53, occ.TotalPersonDays)
	assert.NotContains(t, occ.Days, billing.TenantID("gone"))
}
