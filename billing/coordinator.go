/*
coordinator.go - Bill-run orchestration

PURPOSE:
  Orchestrates one calculation for a (property, month): resolves the
  bill run, guards against recalculating a closed month, assembles the
  utility and rent lines, and posts per-tenant totals to the ledger.

PIPELINE:
  1. Resolve or create the bill run (open by default)
  2. Reject when the run is closed (DuplicateCalculationError)
  3. Replace all existing lines for the run (idempotent recomputation)
  4. Occupancy per tenant -> division per utility -> rent lines
  5. Batch-read current balances, append one ledger entry per tenant
     with a nonzero total (bills reduce balance)

IDEMPOTENCY:
  Line replacement makes recomputation safe. Ledger postings carry the
  key "bill:<runID>:<tenantID>"; a retried run re-replaces the lines but
  the store rejects the duplicate postings, so each run posts each
  tenant at most once.

CONCURRENCY:
  A per-(property, month) mutex makes the open/closed check-then-act
  atomic within the process; the store's conditional close covers the
  transition itself. Balances are batch-read before the posting loop to
  avoid per-tenant round-trips.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE - Entry point for all billing operations
// =============================================================================

// Engine wires the repository and ledger behind the public operations:
// Run, Preview, Confirm, CurrentBalance, AcceptPayment.
type Engine struct {
	repo   Repository
	ledger *BalanceLedger
	now    func() time.Time

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex // per (property, month)
}

func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo:     repo,
		ledger:   NewBalanceLedger(repo),
		now:      func() time.Time { return time.Now().UTC() },
		runLocks: make(map[string]*sync.Mutex),
	}
}

// Ledger exposes the balance ledger for direct reads.
func (e *Engine) Ledger() *BalanceLedger { return e.ledger }

func (e *Engine) runLock(propertyID PropertyID, month Month) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := string(propertyID) + "@" + month.Key()
	lock, ok := e.runLocks[k]
	if !ok {
		lock = &sync.Mutex{}
		e.runLocks[k] = lock
	}
	return lock
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary reports one completed calculation, including the per-tenant
// day map for observability.
type RunSummary struct {
	BillRunID            string                       `json:"bill_run_id"`
	LinesCreated         int                          `json:"lines_created"`
	LedgerRecordsCreated int                          `json:"ledger_records_created"`
	Totals               map[TenantID]decimal.Decimal `json:"totals"`
	UserDays             map[TenantID]int             `json:"user_days"`
	Headcount            int                          `json:"headcount"`
	TotalPersonDays      int                          `json:"total_person_days"`
}

// =============================================================================
// SHARED COMPUTE PIPELINE
// =============================================================================

// computation is the side-effect-free result of one calculation. Both
// Run and Preview produce it; only persistence differs.
type computation struct {
	lines  []BillLine // no IDs yet
	totals map[TenantID]decimal.Decimal
	occ    OccupancySummary
}

func (e *Engine) validateKey(propertyID PropertyID, month Month) error {
	if propertyID == "" {
		return &ValidationError{Field: "property_id", Reason: "missing"}
	}
	if month.IsZero() {
		return &ValidationError{Field: "month", Reason: "missing or malformed"}
	}
	return nil
}

// compute runs steps 4-5 of the pipeline in memory: load inputs, run
// occupancy per tenant, division per utility, and append rent lines.
func (e *Engine) compute(ctx context.Context, propertyID PropertyID, month Month) (*computation, error) {
	prop, err := e.repo.Property(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if prop == nil {
		return nil, &NotFoundError{Kind: "property", ID: string(propertyID)}
	}

	tenancies, err := e.repo.Tenancies(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	occ := ComputeOccupancy(tenancies, month)

	rules, err := e.repo.DivisionRules(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	actuals, err := e.repo.UtilityActuals(ctx, propertyID, month)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rents, err := e.repo.Rents(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var lines []BillLine
	for _, actual := range actuals {
		method, ok := rules[actual.Utility]
		if !ok {
			method = DefaultMethod
		}
		divided, err := Divide(method, actual.Utility, actual.Amount, occ)
		if err != nil {
			return nil, err
		}
		lines = append(lines, divided...)
	}

	rentLines, err := RentLines(rents)
	if err != nil {
		return nil, err
	}
	lines = append(lines, rentLines...)

	totals := make(map[TenantID]decimal.Decimal)
	for _, line := range lines {
		if line.TenantID == nil {
			continue // house account lines never hit a tenant ledger
		}
		totals[*line.TenantID] = totals[*line.TenantID].Add(line.Amount)
	}

	return &computation{lines: lines, totals: totals, occ: occ}, nil
}

// =============================================================================
// RUN - Calculate and persist in one step (run stays open)
// =============================================================================

// Run performs one full calculation and persists it. The bill run stays
// open afterward: lines may be regenerated by a later Run, but ledger
// postings are deduplicated by idempotency key. Closing happens only
// through Confirm.
func (e *Engine) Run(ctx context.Context, propertyID PropertyID, month Month) (*RunSummary, error) {
	if err := e.validateKey(propertyID, month); err != nil {
		return nil, err
	}

	lock := e.runLock(propertyID, month)
	lock.Lock()
	defer lock.Unlock()

	run, err := e.repo.ResolveBillRun(ctx, propertyID, month)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if run.Status == BillRunClosed {
		return nil, &DuplicateCalculationError{PropertyID: propertyID, Month: month, BillRunID: run.ID}
	}

	comp, err := e.compute(ctx, propertyID, month)
	if err != nil {
		return nil, err
	}

	lines := stampLines(comp.lines, run.ID)
	if err := e.repo.ReplaceBillLines(ctx, run.ID, lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	balances, err := e.repo.LatestEntries(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	created := 0
	for _, tenantID := range sortedTenants(comp.totals) {
		total := comp.totals[tenantID]
		if total.IsZero() {
			continue
		}
		current := decimal.Zero
		if entry, ok := balances[tenantID]; ok {
			current = entry.Balance
		}
		_, err := e.ledger.PostAbsolute(ctx, LedgerEntry{
			TenantID:       tenantID,
			PropertyID:     propertyID,
			Balance:        current.Sub(total),
			SourceType:     SourceBill,
			SourceID:       run.ID,
			IdempotencyKey: BillIdempotencyKey(run.ID, tenantID),
		})
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			continue // already posted by an earlier run attempt
		}
		if err != nil {
			return nil, err
		}
		created++
	}

	return &RunSummary{
		BillRunID:            run.ID,
		LinesCreated:         len(lines),
		LedgerRecordsCreated: created,
		Totals:               comp.totals,
		UserDays:             comp.occ.Days,
		Headcount:            comp.occ.Headcount,
		TotalPersonDays:      comp.occ.TotalPersonDays,
	}, nil
}

// =============================================================================
// PAYMENTS AND BALANCES
// =============================================================================

// CurrentBalance returns the tenant's running balance at the property.
func (e *Engine) CurrentBalance(ctx context.Context, tenantID TenantID, propertyID PropertyID) (decimal.Decimal, error) {
	return e.ledger.CurrentBalance(ctx, tenantID, propertyID)
}

// AcceptPayment posts a payment's amount as a positive delta, exactly
// once per payment.
func (e *Engine) AcceptPayment(ctx context.Context, paymentID string) (*LedgerEntry, error) {
	if paymentID == "" {
		return nil, &ValidationError{Field: "payment_id", Reason: "missing"}
	}

	payment, err := e.repo.Payment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if payment == nil {
		return nil, &NotFoundError{Kind: "payment", ID: paymentID}
	}
	if payment.Accepted {
		return nil, fmt.Errorf("payment %s already accepted: %w", paymentID, ErrDuplicateIdempotencyKey)
	}
	if payment.Amount.IsNegative() {
		return nil, &InvariantError{Reason: fmt.Sprintf("negative payment amount %s", payment.Amount)}
	}

	entry, err := e.ledger.Post(ctx, payment.TenantID, payment.PropertyID,
		SourcePayment, payment.ID, payment.Amount, PaymentIdempotencyKey(payment.ID))
	if err != nil {
		return nil, err
	}

	if err := e.repo.MarkPaymentAccepted(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return entry, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// stampLines assigns persistence IDs and the run id to a computed line
// set. Preview payloads stay unstamped so repeats are byte-identical.
func stampLines(lines []BillLine, runID string) []BillLine {
	stamped := make([]BillLine, len(lines))
	for i, line := range lines {
		line.ID = xid.New().String()
		line.BillRunID = runID
		stamped[i] = line
	}
	return stamped
}

func sortedTenants(totals map[TenantID]decimal.Decimal) []TenantID {
	ids := make([]TenantID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
