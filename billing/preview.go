/*
preview.go - Compute-then-commit two-phase flow

PURPOSE:
  Preview runs the full calculation pipeline with zero writes, producing
  the same shapes as a real run. Confirm persists a previously shown
  payload exactly once and closes the bill run, guaranteeing that what
  the user approved is what gets written - not a fresh recomputation
  that may have drifted.

STATE MACHINE:
  (no run)      --Preview--> (no run, payload shown)
  open          --Run------> open, lines regenerated, ledger appended
  open          --Confirm--> closed, payload persisted
  closed        --Run/Confirm/Preview--> DuplicateCalculationError

  Closing is the terminal step of a successful Confirm. Run alone never
  closes, which keeps direct recalculation available while a month is
  being prepared.

RACE HANDLING:
  Two concurrent Confirms both passing the open check are serialized by
  the per-run mutex in process, and by the store's conditional close
  across processes: the loser's close reports the run already closed and
  its postings are rejected as idempotency-key duplicates.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PREVIEW PAYLOAD
// =============================================================================

// PlannedPosting is one ledger append the commit will perform: the
// balance read at preview time and the absolute balance to write.
type PlannedPosting struct {
	TenantID       TenantID        `json:"tenant_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	NewBalance     decimal.Decimal `json:"new_balance"`
}

// PreviewPayload is the full result of a side-effect-free calculation.
// It carries no generated IDs or timestamps, so two previews over
// unchanged inputs are byte-identical.
type PreviewPayload struct {
	PropertyID      PropertyID                   `json:"property_id"`
	Month           Month                        `json:"month"`
	Lines           []BillLine                   `json:"lines"`
	LedgerRecords   []PlannedPosting             `json:"ledger_records"`
	Totals          map[TenantID]decimal.Decimal `json:"totals"`
	UserDays        map[TenantID]int             `json:"user_days"`
	Headcount       int                          `json:"headcount"`
	TotalPersonDays int                          `json:"total_person_days"`
}

// CommitResult reports a successful confirm.
type CommitResult struct {
	BillRunID            string    `json:"bill_run_id"`
	LinesCreated         int       `json:"lines_created"`
	LedgerRecordsCreated int       `json:"ledger_records_created"`
	ClosedAt             time.Time `json:"closed_at"`
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview computes a full calculation without writing anything. It does
// not create the bill run; only Run and Confirm do.
func (e *Engine) Preview(ctx context.Context, propertyID PropertyID, month Month) (*PreviewPayload, error) {
	if err := e.validateKey(propertyID, month); err != nil {
		return nil, err
	}

	run, err := e.repo.FindBillRun(ctx, propertyID, month)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if run != nil && run.Status == BillRunClosed {
		return nil, &DuplicateCalculationError{PropertyID: propertyID, Month: month, BillRunID: run.ID}
	}

	comp, err := e.compute(ctx, propertyID, month)
	if err != nil {
		return nil, err
	}

	balances, err := e.repo.LatestEntries(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var planned []PlannedPosting
	for _, tenantID := range sortedTenants(comp.totals) {
		total := comp.totals[tenantID]
		if total.IsZero() {
			continue
		}
		current := decimal.Zero
		if entry, ok := balances[tenantID]; ok {
			current = entry.Balance
		}
		planned = append(planned, PlannedPosting{
			TenantID:       tenantID,
			CurrentBalance: current,
			NewBalance:     RoundCents(current.Sub(total)),
		})
	}

	return &PreviewPayload{
		PropertyID:      propertyID,
		Month:           month,
		Lines:           comp.lines,
		LedgerRecords:   planned,
		Totals:          comp.totals,
		UserDays:        comp.occ.Days,
		Headcount:       comp.occ.Headcount,
		TotalPersonDays: comp.occ.TotalPersonDays,
	}, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm persists the exact payload shown to the caller and closes the
// bill run. It never recomputes: the approved lines and balances are
// what gets written.
func (e *Engine) Confirm(ctx context.Context, propertyID PropertyID, month Month, payload *PreviewPayload) (*CommitResult, error) {
	if err := e.validateKey(propertyID, month); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &ValidationError{Field: "payload", Reason: "missing"}
	}
	if payload.PropertyID != propertyID || payload.Month != month {
		return nil, &ValidationError{Field: "payload", Reason: "does not match the property and month being confirmed"}
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

	lines := stampLines(payload.Lines, run.ID)
	if err := e.repo.ReplaceBillLines(ctx, run.ID, lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	created := 0
	for _, planned := range payload.LedgerRecords {
		_, err := e.ledger.PostAbsolute(ctx, LedgerEntry{
			TenantID:       planned.TenantID,
			PropertyID:     propertyID,
			Balance:        planned.NewBalance,
			SourceType:     SourceBill,
			SourceID:       run.ID,
			IdempotencyKey: BillIdempotencyKey(run.ID, planned.TenantID),
		})
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			continue // an earlier Run already posted this tenant for this run
		}
		if err != nil {
			return nil, err
		}
		created++
	}

	if err := e.repo.CloseBillRun(ctx, run.ID); err != nil {
		if errors.Is(err, ErrDuplicateCalculation) {
			return nil, &DuplicateCalculationError{PropertyID: propertyID, Month: month, BillRunID: run.ID}
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return &CommitResult{
		BillRunID:            run.ID,
		LinesCreated:         len(lines),
		LedgerRecordsCreated: created,
		ClosedAt:             e.now(),
	}, nil
}
