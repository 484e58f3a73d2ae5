/*
division.go - Per-utility cost distribution

PURPOSE:
  Distributes one utility's actual monthly cost across the active
  tenants per the configured division method, producing bill lines.

METHODS:
  fixed:      the FULL amount charged to every active tenant (not divided)
  equalshare: amount / headcount, rounded to the cent per tenant
  bydays:     amount * presentDays / totalPersonDays per tenant

HOUSE ACCOUNT:
  When no tenant is eligible (zero headcount for equalshare, zero
  person-days for bydays) the full amount goes to a single house-account
  line with a nil tenant id and a reason in the detail.

ROUNDING:
  Round half-up to the cent at line creation. Per-tenant sums are NOT
  reconciled to the exact utility total; residual cent drift is accepted
  and bounded by headcount * $0.01.
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Divide distributes a utility amount across the active tenants. Line
// ordering follows the sorted Active list so repeated computations over
// unchanged inputs are identical.
func Divide(method DivisionMethod, utility Utility, amount decimal.Decimal, occ OccupancySummary) ([]BillLine, error) {
	if amount.IsNegative() {
		return nil, &InvariantError{Reason: fmt.Sprintf("negative amount %s for utility %s", amount, utility)}
	}

	switch method {
	case MethodFixed:
		return divideFixed(utility, amount, occ), nil
	case MethodEqualShare:
		return divideEqualShare(utility, amount, occ), nil
	case MethodByDays:
		return divideByDays(utility, amount, occ), nil
	default:
		return nil, &InvariantError{Reason: fmt.Sprintf("unknown division method %q for utility %s", method, utility)}
	}
}

func divideFixed(utility Utility, amount decimal.Decimal, occ OccupancySummary) []BillLine {
	lines := make([]BillLine, 0, len(occ.Active))
	for _, tenant := range occ.Active {
		tenant := tenant
		lines = append(lines, BillLine{
			TenantID: &tenant,
			Utility:  utility,
			Amount:   RoundCents(amount),
			Detail:   FixedDetail{},
		})
	}
	return lines
}

func divideEqualShare(utility Utility, amount decimal.Decimal, occ OccupancySummary) []BillLine {
	if occ.Headcount == 0 {
		return []BillLine{houseLine(utility, amount, MethodEqualShare, "no_residents")}
	}

	perPerson := RoundCents(amount.Div(decimal.NewFromInt(int64(occ.Headcount))))
	lines := make([]BillLine, 0, occ.Headcount)
	for _, tenant := range occ.Active {
		tenant := tenant
		lines = append(lines, BillLine{
			TenantID: &tenant,
			Utility:  utility,
			Amount:   perPerson,
			Detail:   EqualShareDetail{Headcount: occ.Headcount},
		})
	}
	return lines
}

func divideByDays(utility Utility, amount decimal.Decimal, occ OccupancySummary) []BillLine {
	if occ.TotalPersonDays == 0 {
		return []BillLine{houseLine(utility, amount, MethodByDays, "no_days")}
	}

	total := decimal.NewFromInt(int64(occ.TotalPersonDays))
	lines := make([]BillLine, 0, occ.Headcount)
	for _, tenant := range occ.Active {
		tenant := tenant
		days := occ.Days[tenant]
		share := RoundCents(amount.Mul(decimal.NewFromInt(int64(days))).Div(total))
		lines = append(lines, BillLine{
			TenantID: &tenant,
			Utility:  utility,
			Amount:   share,
			Detail:   ByDaysDetail{DaysPresent: days, TotalPersonDays: occ.TotalPersonDays},
		})
	}
	return lines
}

func houseLine(utility Utility, amount decimal.Decimal, method DivisionMethod, reason string) BillLine {
	return BillLine{
		TenantID: nil,
		Utility:  utility,
		Amount:   RoundCents(amount),
		Detail:   HouseAccountDetail{Method: method, Reason: reason},
	}
}

// RentLines emits one flat rent line per TenantRent row. Rent is
// unconditional on presence or active status.
func RentLines(rents []TenantRent) ([]BillLine, error) {
	lines := make([]BillLine, 0, len(rents))
	for _, r := range rents {
		if r.MonthlyRent.IsNegative() {
			return nil, &InvariantError{Reason: fmt.Sprintf("negative rent for tenant %s", r.TenantID)}
		}
		tenant := r.TenantID
		lines = append(lines, BillLine{
			TenantID: &tenant,
			Utility:  UtilityRent,
			Amount:   RoundCents(r.MonthlyRent),
			Detail:   RentDetail{},
		})
	}
	return lines, nil
}
