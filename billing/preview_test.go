package billing_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/billing-engine/billing"
)

// =============================================================================
// PREVIEW
// =============================================================================

func TestEngine_Preview_WritesNothing(t *testing.T) {
	// GIVEN: The seeded flat
	// WHEN: Previewing January
	// THEN: No bill run exists afterward and no ledger entry is appended

	engine, repo := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	payload, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)
	require.NotEmpty(t, payload.Lines)
	require.Len(t, payload.LedgerRecords, 2)

	run, err := repo.FindBillRun(ctx, "flat-1", jan)
	require.NoError(t, err)
	assert.Nil(t, run, "preview must not create the bill run")

	entries, err := repo.Entries(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_Preview_Deterministic(t *testing.T) {
	// Re-running preview with unchanged inputs yields byte-identical
	// lines: no IDs or timestamps are stamped at preview time.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	first, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)
	second, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)

	a, err := json.Marshal(first.Lines)
	require.NoError(t, err)
	b, err := json.Marshal(second.Lines)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEngine_Preview_PlannedBalances(t *testing.T) {
	// Planned postings show current balance and the balance a confirm
	// would write, in sorted tenant order.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	payload, err := engine.Preview(ctx, "flat-1", month(t, "2024-01"))
	require.NoError(t, err)
	require.Len(t, payload.LedgerRecords, 2)

	alice := payload.LedgerRecords[0]
	assert.Equal(t, billing.TenantID("alice"), alice.TenantID)
	assert.True(t, alice.CurrentBalance.IsZero())
	assert.True(t, alice.NewBalance.Equal(money("-687.00")), "got %s", alice.NewBalance)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestEngine_Confirm_PersistsPayloadAndCloses(t *testing.T) {
	// GIVEN: A preview payload the caller approved
	// WHEN: Confirming it
	// THEN: Exactly those lines and balances persist, and the run closes

	engine, repo := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	payload, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)

	result, err := engine.Confirm(ctx, "flat-1", jan, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload.Lines), result.LinesCreated)
	assert.Equal(t, 2, result.LedgerRecordsCreated)
	assert.False(t, result.ClosedAt.IsZero())

	run, err := repo.GetBillRun(ctx, result.BillRunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, billing.BillRunClosed, run.Status)

	balance, err := engine.CurrentBalance(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(money("-687.00")))
}

func TestEngine_Confirm_SecondConfirm_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	payload, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)

	_, err = engine.Confirm(ctx, "flat-1", jan, payload)
	require.NoError(t, err)

	_, err = engine.Confirm(ctx, "flat-1", jan, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrDuplicateCalculation)
}

func TestEngine_Confirm_AfterClose_PreviewRejected(t *testing.T) {
	// A closed run also blocks further previews for the key.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	payload, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)
	_, err = engine.Confirm(ctx, "flat-1", jan, payload)
	require.NoError(t, err)

	_, err = engine.Preview(ctx, "flat-1", jan)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrDuplicateCalculation)
}

func TestEngine_Confirm_MismatchedPayload_Rejected(t *testing.T) {
	// The payload must belong to the key being confirmed.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	payload, err := engine.Preview(ctx, "flat-1", month(t, "2024-01"))
	require.NoError(t, err)

	_, err = engine.Confirm(ctx, "flat-1", month(t, "2024-02"), payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = engine.Confirm(ctx, "flat-1", month(t, "2024-01"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestEngine_Confirm_AfterRun_SkipsAlreadyPostedTenants(t *testing.T) {
	// GIVEN: Run already posted the ledger for this bill run
	// WHEN: Confirming a preview of the same run
	// THEN: Postings dedupe by idempotency key; the run still closes

	engine, repo := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	payload, err := engine.Preview(ctx, "flat-1", jan)
	require.NoError(t, err)

	_, err = engine.Run(ctx, "flat-1", jan)
	require.NoError(t, err)

	result, err := engine.Confirm(ctx, "flat-1", jan, payload)
	require.NoError(t, err)
	assert.Equal(t, 0, result.LedgerRecordsCreated)

	entries, err := repo.Entries(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no double posting")
}
