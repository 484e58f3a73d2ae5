package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/billing-engine/billing"
	"github.com/hearth/billing-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestEngine seeds a two-tenant flat: alice present all of January,
// bob arriving Jan 16 (16 present days). Electricity splits by days,
// internet by equal share; both tenants pay rent.
func newTestEngine(t *testing.T) (*billing.Engine, *store.Memory) {
	repo := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.SaveProperty(ctx, billing.Property{ID: "flat-1", Name: "Elm Street", Active: true}))
	require.NoError(t, repo.SaveTenancy(ctx, billing.Tenancy{
		TenantID: "alice", PropertyID: "flat-1", Start: date(t, "2023-06-01"),
	}))
	require.NoError(t, repo.SaveTenancy(ctx, billing.Tenancy{
		TenantID: "bob", PropertyID: "flat-1", Start: date(t, "2024-01-16"),
	}))
	require.NoError(t, repo.SaveUtilityActual(ctx, billing.UtilityActual{
		PropertyID: "flat-1", Month: month(t, "2024-01"), Utility: "electricity", Amount: money("94"),
	}))
	require.NoError(t, repo.SaveUtilityActual(ctx, billing.UtilityActual{
		PropertyID: "flat-1", Month: month(t, "2024-01"), Utility: "internet", Amount: money("50"),
	}))
	require.NoError(t, repo.SaveDivisionRule(ctx, billing.DivisionRule{
		PropertyID: "flat-1", Utility: "electricity", Method: billing.MethodByDays,
	}))
	require.NoError(t, repo.SaveRent(ctx, billing.TenantRent{
		TenantID: "alice", PropertyID: "flat-1", MonthlyRent: money("600"),
	}))
	require.NoError(t, repo.SaveRent(ctx, billing.TenantRent{
		TenantID: "bob", PropertyID: "flat-1", MonthlyRent: money("550"),
	}))

	return billing.NewEngine(repo), repo
}

// =============================================================================
// RUN
// =============================================================================

func TestEngine_Run_PostsBillsAndReportsOccupancy(t *testing.T) {
	// GIVEN: The seeded two-tenant flat
	// WHEN: Running January's bill
	// THEN: Lines, totals and ledger balances all land

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	summary, err := engine.Run(ctx, "flat-1", month(t, "2024-01"))
	require.NoError(t, err)

	// alice 31 days, bob 16 days, 47 person-days total
	assert.Equal(t, 2, summary.Headcount)
	assert.Equal(t, 47, summary.TotalPersonDays)
	assert.Equal(t, 31, summary.UserDays["alice"])
	assert.Equal(t, 16, summary.UserDays["bob"])

	// electricity bydays (94*31/47=62, 94*16/47=32), internet equalshare
	// (25 each), rent flat
	aliceTotal := summary.Totals["alice"]
	bobTotal := summary.Totals["bob"]
	assert.True(t, aliceTotal.Equal(money("687.00")), "alice total %s", aliceTotal)
	assert.True(t, bobTotal.Equal(money("607.00")), "bob total %s", bobTotal)

	// 2 electricity + 2 internet + 2 rent lines
	assert.Equal(t, 6, summary.LinesCreated)
	assert.Equal(t, 2, summary.LedgerRecordsCreated)

	// bills reduce balance
	balance, err := engine.CurrentBalance(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(money("-687.00")), "balance %s", balance)
}

func TestEngine_Run_RetryWhileOpen_DoesNotDoublePost(t *testing.T) {
	// GIVEN: A completed run that is still open
	// WHEN: Running the same (property, month) again
	// THEN: Lines regenerate but no second ledger entry is appended

	engine, repo := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	first, err := engine.Run(ctx, "flat-1", jan)
	require.NoError(t, err)
	require.Equal(t, 2, first.LedgerRecordsCreated)

	second, err := engine.Run(ctx, "flat-1", jan)
	require.NoError(t, err)
	assert.Equal(t, first.BillRunID, second.BillRunID, "same run is reused while open")
	assert.Equal(t, 0, second.LedgerRecordsCreated, "idempotency key blocks re-posting")

	entries, err := repo.Entries(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_Run_ClosedRun_Rejected(t *testing.T) {
	// Once confirm closes the run, further runs for the key must fail.
	engine, repo := newTestEngine(t)
	ctx := context.Background()
	jan := month(t, "2024-01")

	summary, err := engine.Run(ctx, "flat-1", jan)
	require.NoError(t, err)
	require.NoError(t, repo.CloseBillRun(ctx, summary.BillRunID))

	_, err = engine.Run(ctx, "flat-1", jan)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrDuplicateCalculation)
}

func TestEngine_Run_UnknownProperty_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Run(context.Background(), "nope", month(t, "2024-01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestEngine_Run_MissingKey_ValidationError(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Run(context.Background(), "", month(t, "2024-01"))
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = engine.Run(context.Background(), "flat-1", billing.Month{})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestEngine_AcceptPayment_PostsPositiveDelta(t *testing.T) {
	// GIVEN: Alice owes 687 after the January run
	// WHEN: A 200 payment is accepted
	// THEN: Balance rises to -487 and the payment cannot be accepted twice

	engine, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Run(ctx, "flat-1", month(t, "2024-01"))
	require.NoError(t, err)

	require.NoError(t, repo.SavePayment(ctx, billing.Payment{
		ID: "pay-1", TenantID: "alice", PropertyID: "flat-1", Amount: money("200"),
	}))

	entry, err := engine.AcceptPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, entry.Balance.Equal(money("-487.00")), "balance %s", entry.Balance)
	assert.Equal(t, billing.SourcePayment, entry.SourceType)

	_, err = engine.AcceptPayment(ctx, "pay-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrDuplicateIdempotencyKey)
}

func TestEngine_AcceptPayment_Unknown_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.AcceptPayment(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// BALANCE
// =============================================================================

func TestEngine_CurrentBalance_NoHistory_Zero(t *testing.T) {
	engine, _ := newTestEngine(t)

	balance, err := engine.CurrentBalance(context.Background(), "alice", "flat-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.Zero))
}
