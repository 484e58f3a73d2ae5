/*
repository.go - Persistence interface for billing data

PURPOSE:
  Defines the interface between the billing engine and the database.
  The engine never talks to a concrete store; every operation receives
  its Repository by injection, so there is no ambient client state.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - billing/store: in-memory store for tests and dev

CONTRACTS:
  - AppendEntry is append-only and rejects duplicate idempotency keys
    with ErrDuplicateIdempotencyKey.
  - ResolveBillRun creates an open run when none exists for the key;
    there is at most one run per (property, month).
  - CloseBillRun is a conditional open->closed transition: it returns
    ErrDuplicateCalculation when the run is already closed, atomically
    with the check.
  - ReplaceBillLines deletes all lines for the run and inserts the new
    set in one atomic step.
*/
package billing

import "context"

// Repository is the persistence boundary of the engine.
type Repository interface {
	// --- reads -----------------------------------------------------------

	// Property returns nil when the id is unknown.
	Property(ctx context.Context, id PropertyID) (*Property, error)

	// Tenancies returns all tenancies for a property with their break
	// intervals attached.
	Tenancies(ctx context.Context, propertyID PropertyID) ([]Tenancy, error)

	// UtilityActuals returns the recorded utility costs for the month,
	// ordered by utility.
	UtilityActuals(ctx context.Context, propertyID PropertyID, month Month) ([]UtilityActual, error)

	// DivisionRules returns the configured method per utility.
	DivisionRules(ctx context.Context, propertyID PropertyID) (map[Utility]DivisionMethod, error)

	// Rents returns the fixed monthly rent rows, ordered by tenant.
	Rents(ctx context.Context, propertyID PropertyID) ([]TenantRent, error)

	// --- bill runs -------------------------------------------------------

	// FindBillRun returns the run for the key, or nil when none exists.
	// Read-only; used by preview.
	FindBillRun(ctx context.Context, propertyID PropertyID, month Month) (*BillRun, error)

	// GetBillRun returns the run with the given ID, or nil when none
	// exists.
	GetBillRun(ctx context.Context, runID string) (*BillRun, error)

	// ResolveBillRun returns the run for the key, creating an open one
	// when none exists.
	ResolveBillRun(ctx context.Context, propertyID PropertyID, month Month) (*BillRun, error)

	// CloseBillRun transitions open->closed. Returns
	// ErrDuplicateCalculation when the run is already closed.
	CloseBillRun(ctx context.Context, runID string) error

	// ReplaceBillLines atomically deletes the run's lines and inserts
	// the new set.
	ReplaceBillLines(ctx context.Context, runID string, lines []BillLine) error

	// BillLines returns the run's current lines.
	BillLines(ctx context.Context, runID string) ([]BillLine, error)

	// --- ledger ----------------------------------------------------------

	// LatestEntry returns the newest entry by PostedAt for the key, or
	// nil when the tenant has no history.
	LatestEntry(ctx context.Context, tenantID TenantID, propertyID PropertyID) (*LedgerEntry, error)

	// LatestEntries batch-reads the newest entry per tenant for a whole
	// property in one call.
	LatestEntries(ctx context.Context, propertyID PropertyID) (map[TenantID]LedgerEntry, error)

	// AppendEntry appends one immutable entry. Rejects duplicate
	// idempotency keys with ErrDuplicateIdempotencyKey.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// Entries returns the full history for the key, ordered by PostedAt.
	Entries(ctx context.Context, tenantID TenantID, propertyID PropertyID) ([]LedgerEntry, error)

	// --- payments --------------------------------------------------------

	// Payment returns nil when the id is unknown.
	Payment(ctx context.Context, id string) (*Payment, error)

	// MarkPaymentAccepted flips the accepted flag after the ledger post.
	MarkPaymentAccepted(ctx context.Context, id string) error
}

// Seeder is the write surface for billing inputs. Both stores implement
// it; the API data-entry endpoints and tests go through it.
type Seeder interface {
	SaveProperty(ctx context.Context, p Property) error
	SaveTenancy(ctx context.Context, t Tenancy) error
	SaveUtilityActual(ctx context.Context, a UtilityActual) error
	SaveDivisionRule(ctx context.Context, r DivisionRule) error
	SaveRent(ctx context.Context, r TenantRent) error
	SavePayment(ctx context.Context, p Payment) error
}
