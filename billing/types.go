/*
Package billing provides the core bill calculation and ledger posting engine.

PURPOSE:
  This package contains the domain types and algorithms for splitting
  shared-housing costs among tenants for a calendar month and for
  maintaining a running per-tenant balance. Utilities are divided per a
  configured method, rent is charged flat, and every resulting charge is
  posted to an append-only balance ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tenancy/BreakInterval: A tenant's residency at a property and the
    sub-periods excluded from day-based allocation
  - UtilityActual/DivisionRule/TenantRent: The monthly billing inputs
  - BillRun/BillLine: One calculation attempt and its charge rows
  - LedgerEntry: An immutable record of a tenant's absolute balance
  - LineDetail: A tagged union describing how a charge was computed

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing tenant/property IDs
  4. Auditability: Every ledger entry has source type, source id, and
     an idempotency key

SEE ALSO:
  - occupancy.go: Present-day counting with break merging
  - division.go: Per-utility cost distribution
  - coordinator.go: Bill-run orchestration
  - ledger.go: Running balance reads and appends
  - preview.go: Compute-then-commit two-phase flow
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type PropertyID string

// Utility identifies one billed utility, e.g. "electricity" or "water".
// Rent lines use the reserved UtilityRent key.
type Utility string

const UtilityRent Utility = "rent"

// =============================================================================
// MONEY
// =============================================================================

// RoundCents rounds to 2 decimal places, half away from zero.
// All bill line amounts are rounded at line-creation time.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PROPERTY AND TENANCY
// =============================================================================

type Property struct {
	ID     PropertyID
	Name   string
	Active bool
}

// Tenancy is one tenant's residency interval at a property.
// End is nil for an ongoing stay. The lenient-data policy applies: a
// missing or unparsable end date is treated as "ongoing through month
// end", never as an error.
type Tenancy struct {
	TenantID   TenantID
	PropertyID PropertyID
	Start      Date
	End        *Date
	Breaks     []BreakInterval
}

// BreakInterval is a sub-period of a tenancy during which the tenant is
// excluded from day-based allocation. Stored intervals may overlap;
// they are merged before use.
type BreakInterval struct {
	Start Date
	End   Date
}

// =============================================================================
// BILLING INPUTS
// =============================================================================

// UtilityActual is the actual cost of one utility for one month.
// Unique per (property, month, utility).
type UtilityActual struct {
	PropertyID PropertyID
	Month      Month
	Utility    Utility
	Amount     decimal.Decimal
}

type DivisionMethod string

const (
	MethodFixed      DivisionMethod = "fixed"
	MethodEqualShare DivisionMethod = "equalshare"
	MethodByDays     DivisionMethod = "bydays"
)

// DefaultMethod applies when no DivisionRule exists for a utility.
const DefaultMethod = MethodEqualShare

// DivisionRule maps (property, utility) to a division method.
type DivisionRule struct {
	PropertyID PropertyID
	Utility    Utility
	Method     DivisionMethod
}

// TenantRent is a fixed monthly rent, independent of presence.
type TenantRent struct {
	TenantID    TenantID
	PropertyID  PropertyID
	MonthlyRent decimal.Decimal
}

// =============================================================================
// BILL RUN AND BILL LINES
// =============================================================================

type BillRunStatus string

const (
	BillRunOpen   BillRunStatus = "open"
	BillRunClosed BillRunStatus = "closed"
)

// BillRun is one calculation attempt for a (property, month). It is
// created lazily on the first calculation and transitions open->closed
// exactly once, on a successful confirm.
type BillRun struct {
	ID         string
	PropertyID PropertyID
	Month      Month
	Status     BillRunStatus
	CreatedAt  time.Time
}

// BillLine is one charge row within a bill run. TenantID is nil for
// house-account lines (no eligible tenant). Lines are regenerable: all
// lines for a run are replaced on recalculation while the run is open.
//
// ID is assigned at persistence time; preview payloads carry lines
// without IDs so repeated previews are byte-identical.
type BillLine struct {
	ID        string          `json:"id,omitempty"`
	BillRunID string          `json:"bill_run_id,omitempty"`
	TenantID  *TenantID       `json:"tenant_id"`
	Utility   Utility         `json:"utility"`
	Amount    decimal.Decimal `json:"amount"`
	Detail    LineDetail      `json:"detail"`
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerSource string

const (
	SourceBill       LedgerSource = "bill"
	SourcePayment    LedgerSource = "payment"
	SourceAdjustment LedgerSource = "adjustment"
	SourceInitial    LedgerSource = "initial"
)

// LedgerEntry records a tenant's ABSOLUTE cumulative balance after an
// event, not a delta. The current balance for (tenant, property) is the
// entry with the latest PostedAt. Entries are never mutated or deleted.
type LedgerEntry struct {
	ID             string
	TenantID       TenantID
	PropertyID     PropertyID
	Balance        decimal.Decimal
	SourceType     LedgerSource
	SourceID       string
	IdempotencyKey string
	PostedAt       time.Time
}

// =============================================================================
// PAYMENTS
// =============================================================================

// Payment is an inbound tenant payment awaiting acceptance. Accepting
// posts a positive delta to the ledger exactly once.
type Payment struct {
	ID         string
	TenantID   TenantID
	PropertyID PropertyID
	Amount     decimal.Decimal
	ReceivedAt time.Time
	Accepted   bool
}
