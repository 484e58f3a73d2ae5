// Package store provides an in-memory Repository implementation for
// tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	properties  map[billing.PropertyID]billing.Property
	tenancies   map[billing.PropertyID][]billing.Tenancy
	actuals     map[billing.PropertyID][]billing.UtilityActual
	rules       map[billing.PropertyID]map[billing.Utility]billing.DivisionMethod
	rents       map[billing.PropertyID][]billing.TenantRent
	payments    map[string]billing.Payment
	runs        map[string]*billing.BillRun // by run id
	runsByKey   map[runKey]string
	lines       map[string][]billing.BillLine // by run id
	entries     map[ledgerKey][]billing.LedgerEntry
	idempotency map[string]bool
}

type runKey struct {
	PropertyID billing.PropertyID
	Month      string
}

type ledgerKey struct {
	TenantID   billing.TenantID
	PropertyID billing.PropertyID
}

func NewMemory() *Memory {
	return &Memory{
		properties:  make(map[billing.PropertyID]billing.Property),
		tenancies:   make(map[billing.PropertyID][]billing.Tenancy),
		actuals:     make(map[billing.PropertyID][]billing.UtilityActual),
		rules:       make(map[billing.PropertyID]map[billing.Utility]billing.DivisionMethod),
		rents:       make(map[billing.PropertyID][]billing.TenantRent),
		payments:    make(map[string]billing.Payment),
		runs:        make(map[string]*billing.BillRun),
		runsByKey:   make(map[runKey]string),
		lines:       make(map[string][]billing.BillLine),
		entries:     make(map[ledgerKey][]billing.LedgerEntry),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// SEEDING (billing.Seeder)
// =============================================================================

func (m *Memory) SaveProperty(_ context.Context, p billing.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = p
	return nil
}

func (m *Memory) SaveTenancy(_ context.Context, t billing.Tenancy) error {
	if t.Start.IsZero() {
		return &billing.ValidationError{Field: "start_date", Reason: "missing"}
	}
	if t.End != nil && t.End.Before(t.Start) {
		return &billing.ValidationError{Field: "end_date", Reason: "before start_date"}
	}
	for _, b := range t.Breaks {
		if b.End.Before(b.Start) {
			return &billing.ValidationError{Field: "break", Reason: "end before start"}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// One tenancy per (tenant, property): replace on save.
	list := m.tenancies[t.PropertyID]
	for i, existing := range list {
		if existing.TenantID == t.TenantID {
			list[i] = t
			m.tenancies[t.PropertyID] = list
			return nil
		}
	}
	m.tenancies[t.PropertyID] = append(list, t)
	return nil
}

func (m *Memory) SaveUtilityActual(_ context.Context, a billing.UtilityActual) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.actuals[a.PropertyID]
	for i, existing := range list {
		if existing.Month == a.Month && existing.Utility == a.Utility {
			list[i] = a
			m.actuals[a.PropertyID] = list
			return nil
		}
	}
	m.actuals[a.PropertyID] = append(list, a)
	return nil
}

func (m *Memory) SaveDivisionRule(_ context.Context, r billing.DivisionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rules[r.PropertyID] == nil {
		m.rules[r.PropertyID] = make(map[billing.Utility]billing.DivisionMethod)
	}
	m.rules[r.PropertyID][r.Utility] = r.Method
	return nil
}

func (m *Memory) SaveRent(_ context.Context, r billing.TenantRent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.rents[r.PropertyID]
	for i, existing := range list {
		if existing.TenantID == r.TenantID {
			list[i] = r
			m.rents[r.PropertyID] = list
			return nil
		}
	}
	m.rents[r.PropertyID] = append(list, r)
	return nil
}

func (m *Memory) SavePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

// =============================================================================
// READS (billing.Repository)
// =============================================================================

func (m *Memory) Property(_ context.Context, id billing.PropertyID) (*billing.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.properties[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) Tenancies(_ context.Context, propertyID billing.PropertyID) ([]billing.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Tenancy, len(m.tenancies[propertyID]))
	copy(result, m.tenancies[propertyID])
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

func (m *Memory) UtilityActuals(_ context.Context, propertyID billing.PropertyID, month billing.Month) ([]billing.UtilityActual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.UtilityActual
	for _, a := range m.actuals[propertyID] {
		if a.Month == month {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Utility < result[j].Utility })
	return result, nil
}

func (m *Memory) DivisionRules(_ context.Context, propertyID billing.PropertyID) (map[billing.Utility]billing.DivisionMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[billing.Utility]billing.DivisionMethod, len(m.rules[propertyID]))
	for utility, method := range m.rules[propertyID] {
		result[utility] = method
	}
	return result, nil
}

func (m *Memory) Rents(_ context.Context, propertyID billing.PropertyID) ([]billing.TenantRent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.TenantRent, len(m.rents[propertyID]))
	copy(result, m.rents[propertyID])
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

// =============================================================================
// BILL RUNS
// =============================================================================

func (m *Memory) FindBillRun(_ context.Context, propertyID billing.PropertyID, month billing.Month) (*billing.BillRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.runsByKey[runKey{PropertyID: propertyID, Month: month.Key()}]
	if !ok {
		return nil, nil
	}
	run := *m.runs[id]
	return &run, nil
}

func (m *Memory) ResolveBillRun(_ context.Context, propertyID billing.PropertyID, month billing.Month) (*billing.BillRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := runKey{PropertyID: propertyID, Month: month.Key()}
	if id, ok := m.runsByKey[k]; ok {
		run := *m.runs[id]
		return &run, nil
	}

	run := &billing.BillRun{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		Month:      month,
		Status:     billing.BillRunOpen,
		CreatedAt:  time.Now().UTC(),
	}
	m.runs[run.ID] = run
	m.runsByKey[k] = run.ID

	copied := *run
	return &copied, nil
}

func (m *Memory) CloseBillRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return &billing.NotFoundError{Kind: "bill_run", ID: runID}
	}
	if run.Status == billing.BillRunClosed {
		return billing.ErrDuplicateCalculation
	}
	run.Status = billing.BillRunClosed
	return nil
}

func (m *Memory) ReplaceBillLines(_ context.Context, runID string, lines []billing.BillLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return &billing.NotFoundError{Kind: "bill_run", ID: runID}
	}
	replaced := make([]billing.BillLine, len(lines))
	copy(replaced, lines)
	m.lines[runID] = replaced
	return nil
}

func (m *Memory) BillLines(_ context.Context, runID string) ([]billing.BillLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.BillLine, len(m.lines[runID]))
	copy(result, m.lines[runID])
	return result, nil
}

// GetBillRun returns a run by id, or nil when unknown.
func (m *Memory) GetBillRun(_ context.Context, runID string) (*billing.BillRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) LatestEntry(_ context.Context, tenantID billing.TenantID, propertyID billing.PropertyID) (*billing.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[ledgerKey{TenantID: tenantID, PropertyID: propertyID}]
	if len(list) == 0 {
		return nil, nil
	}
	entry := list[len(list)-1]
	return &entry, nil
}

func (m *Memory) LatestEntries(_ context.Context, propertyID billing.PropertyID) (map[billing.TenantID]billing.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[billing.TenantID]billing.LedgerEntry)
	for k, list := range m.entries {
		if k.PropertyID != propertyID || len(list) == 0 {
			continue
		}
		result[k.TenantID] = list[len(list)-1]
	}
	return result, nil
}

func (m *Memory) AppendEntry(_ context.Context, entry billing.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.IdempotencyKey != "" && m.idempotency[entry.IdempotencyKey] {
		return billing.ErrDuplicateIdempotencyKey
	}

	k := ledgerKey{TenantID: entry.TenantID, PropertyID: entry.PropertyID}
	m.entries[k] = append(m.entries[k], entry)
	if entry.IdempotencyKey != "" {
		m.idempotency[entry.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, tenantID billing.TenantID, propertyID billing.PropertyID) ([]billing.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[ledgerKey{TenantID: tenantID, PropertyID: propertyID}]
	result := make([]billing.LedgerEntry, len(list))
	copy(result, list)
	sort.SliceStable(result, func(i, j int) bool { return result[i].PostedAt.Before(result[j].PostedAt) })
	return result, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) Payment(_ context.Context, id string) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) MarkPaymentAccepted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return &billing.NotFoundError{Kind: "payment", ID: id}
	}
	p.Accepted = true
	m.payments[id] = p
	return nil
}
