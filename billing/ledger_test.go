package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/billing-engine/billing"
	"github.com/hearth/billing-engine/billing/store"
)

// =============================================================================
// POSTING AND BALANCES
// =============================================================================

func TestBalanceLedger_BalanceEqualsSumOfDeltas(t *testing.T) {
	// GIVEN: A sequence of signed posts
	// WHEN: Reading the current balance after each
	// THEN: It equals the running sum of deltas

	ledger := billing.NewBalanceLedger(store.NewMemory())
	ctx := context.Background()

	deltas := []string{"-500", "200", "-42.50", "100.25"}
	running := decimal.Zero
	for i, d := range deltas {
		delta := billing.MustParseDecimal(d)
		running = running.Add(delta)

		entry, err := ledger.Post(ctx, "alice", "flat-1",
			billing.SourceAdjustment, fmt.Sprintf("adj-%d", i), delta, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.True(t, entry.Balance.Equal(running), "after post %d: %s != %s", i, entry.Balance, running)

		balance, err := ledger.CurrentBalance(ctx, "alice", "flat-1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(running))
	}
}

func TestBalanceLedger_KeysAreIndependent(t *testing.T) {
	// Balances are tracked per (tenant, property).
	ledger := billing.NewBalanceLedger(store.NewMemory())
	ctx := context.Background()

	_, err := ledger.Post(ctx, "alice", "flat-1", billing.SourceAdjustment, "a", billing.MustParseDecimal("-10"), "k1")
	require.NoError(t, err)
	_, err = ledger.Post(ctx, "alice", "flat-2", billing.SourceAdjustment, "b", billing.MustParseDecimal("-20"), "k2")
	require.NoError(t, err)

	b1, err := ledger.CurrentBalance(ctx, "alice", "flat-1")
	require.NoError(t, err)
	b2, err := ledger.CurrentBalance(ctx, "alice", "flat-2")
	require.NoError(t, err)
	assert.True(t, b1.Equal(billing.MustParseDecimal("-10")))
	assert.True(t, b2.Equal(billing.MustParseDecimal("-20")))
}

func TestBalanceLedger_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	ledger := billing.NewBalanceLedger(store.NewMemory())
	ctx := context.Background()

	_, err := ledger.Post(ctx, "alice", "flat-1", billing.SourcePayment, "pay-1",
		billing.MustParseDecimal("100"), billing.PaymentIdempotencyKey("pay-1"))
	require.NoError(t, err)

	_, err = ledger.Post(ctx, "alice", "flat-1", billing.SourcePayment, "pay-1",
		billing.MustParseDecimal("100"), billing.PaymentIdempotencyKey("pay-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrDuplicateIdempotencyKey)

	// the rejected post left no trace
	balance, err := ledger.CurrentBalance(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(billing.MustParseDecimal("100.00")))
}

func TestBalanceLedger_ConcurrentPosts_NoLostUpdate(t *testing.T) {
	// GIVEN: 50 concurrent posts of -1 against the same key
	// WHEN: All complete
	// THEN: The balance reflects every post (no stale read won)

	ledger := billing.NewBalanceLedger(store.NewMemory())
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Post(ctx, "alice", "flat-1",
				billing.SourceAdjustment, fmt.Sprintf("adj-%d", i),
				billing.MustParseDecimal("-1"), fmt.Sprintf("key-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := ledger.CurrentBalance(ctx, "alice", "flat-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-n)), "balance %s", balance)
}

func TestBalanceLedger_History_OrderedOldestFirst(t *testing.T) {
	ledger := billing.NewBalanceLedger(store.NewMemory())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.Post(ctx, "alice", "flat-1",
			billing.SourceAdjustment, fmt.Sprintf("adj-%d", i),
			billing.MustParseDecimal("-10"), fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	entries, err := ledger.History(ctx, "alice", "flat-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].PostedAt.Before(entries[i-1].PostedAt))
	}
	assert.True(t, entries[2].Balance.Equal(billing.MustParseDecimal("-30.00")))
}
