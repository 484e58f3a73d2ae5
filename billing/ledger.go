/*
ledger.go - Append-only running balance per (tenant, property)

PURPOSE:
  The balance ledger is the immutable source of truth for what each
  tenant owes or is owed. Every bill posting, payment acceptance, and
  manual adjustment appends one entry carrying the ABSOLUTE cumulative
  balance after the event - the current balance is simply the latest
  entry.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. ABSOLUTE: each entry stores the running balance, not a delta
  3. IDEMPOTENT: each posting carries an idempotency key; a retried
     posting is rejected by the store instead of double-counting

WHY ABSOLUTE BALANCES?
  The current balance is a single latest-row read instead of a replay,
  and the full history doubles as a balance audit trail: any entry shows
  what the tenant's account looked like at that moment.

CONCURRENCY:
  Post is a read-then-write of the running balance. Concurrent posts
  for the same (tenant, property) are serialized by a per-key mutex so
  no balance is computed from a stale read. The idempotency key catches
  duplicates that slip past process boundaries (crash-retry).
*/
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE LEDGER
// =============================================================================

type BalanceLedger struct {
	repo Repository
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (tenant, property)
}

func NewBalanceLedger(repo Repository) *BalanceLedger {
	return &BalanceLedger{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing posts for one (tenant, property).
func (l *BalanceLedger) keyLock(tenantID TenantID, propertyID PropertyID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := string(propertyID) + "/" + string(tenantID)
	lock, ok := l.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[k] = lock
	}
	return lock
}

// CurrentBalance returns the latest entry's balance, or zero when the
// tenant has no ledger history at the property.
func (l *BalanceLedger) CurrentBalance(ctx context.Context, tenantID TenantID, propertyID PropertyID) (decimal.Decimal, error) {
	entry, err := l.repo.LatestEntry(ctx, tenantID, propertyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if entry == nil {
		return decimal.Zero, nil
	}
	return entry.Balance, nil
}

// Post reads the current balance, applies the signed delta, and appends
// an entry with the new absolute balance. Bills post negative deltas,
// payments positive ones.
func (l *BalanceLedger) Post(ctx context.Context, tenantID TenantID, propertyID PropertyID,
	sourceType LedgerSource, sourceID string, delta decimal.Decimal, idempotencyKey string) (*LedgerEntry, error) {

	lock := l.keyLock(tenantID, propertyID)
	lock.Lock()
	defer lock.Unlock()

	current, err := l.CurrentBalance(ctx, tenantID, propertyID)
	if err != nil {
		return nil, err
	}

	entry := LedgerEntry{
		ID:             xid.New().String(),
		TenantID:       tenantID,
		PropertyID:     propertyID,
		Balance:        RoundCents(current.Add(delta)),
		SourceType:     sourceType,
		SourceID:       sourceID,
		IdempotencyKey: idempotencyKey,
		PostedAt:       l.now(),
	}

	if err := l.repo.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// PostAbsolute appends an entry carrying a pre-computed absolute
// balance. Used by confirm, which must persist exactly the balances
// shown in the approved preview.
func (l *BalanceLedger) PostAbsolute(ctx context.Context, entry LedgerEntry) (*LedgerEntry, error) {
	lock := l.keyLock(entry.TenantID, entry.PropertyID)
	lock.Lock()
	defer lock.Unlock()

	entry.ID = xid.New().String()
	entry.Balance = RoundCents(entry.Balance)
	entry.PostedAt = l.now()

	if err := l.repo.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// History returns the full entry history ordered by PostedAt.
func (l *BalanceLedger) History(ctx context.Context, tenantID TenantID, propertyID PropertyID) ([]LedgerEntry, error) {
	entries, err := l.repo.Entries(ctx, tenantID, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return entries, nil
}

// BillIdempotencyKey is the posting key for one tenant within one bill
// run. A retried run reuses the key, so the store rejects the duplicate
// instead of double-posting.
func BillIdempotencyKey(runID string, tenantID TenantID) string {
	return fmt.Sprintf("bill:%s:%s", runID, tenantID)
}

// PaymentIdempotencyKey is the posting key for accepting one payment.
func PaymentIdempotencyKey(paymentID string) string {
	return fmt.Sprintf("payment:%s", paymentID)
}
