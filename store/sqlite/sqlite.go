/*
Package sqlite provides a SQLite-backed implementation of the billing
Repository.

PURPOSE:
  Implements billing.Repository and billing.Seeder using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries table has no UPDATE or DELETE statements anywhere
  in this package. The only regenerable table is bill_lines, which is
  replaced wholesale while a bill run is open.

KEY TABLES:
  properties, tenancies, break_intervals:  occupancy inputs
  utility_actuals, division_rules, tenant_rents: billing inputs
  bill_runs:       one per (property, month), open -> closed once
  bill_lines:      regenerable charge rows per run
  ledger_entries:  immutable absolute running balances
  payments:        inbound payments awaiting acceptance

CONCURRENCY:
  Uses sync.RWMutex for in-process thread safety, WAL mode for readers.
  The open->closed transition is a conditional UPDATE so the
  check-then-act is atomic at the database, and the unique index on
  ledger idempotency keys rejects duplicate postings.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := billing.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hearth/billing-engine/billing"
)

// Store implements billing.Repository and billing.Seeder using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenancies (
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		PRIMARY KEY (tenant_id, property_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tenancies_property
		ON tenancies(property_id);

	CREATE TABLE IF NOT EXISTS break_intervals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		break_start TEXT NOT NULL,
		break_end TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_breaks_tenancy
		ON break_intervals(tenant_id, property_id);

	CREATE TABLE IF NOT EXISTS utility_actuals (
		property_id TEXT NOT NULL,
		month_start TEXT NOT NULL,
		utility TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (property_id, month_start, utility)
	);

	CREATE TABLE IF NOT EXISTS division_rules (
		property_id TEXT NOT NULL,
		utility TEXT NOT NULL,
		method TEXT NOT NULL,
		PRIMARY KEY (property_id, utility)
	);

	CREATE TABLE IF NOT EXISTS tenant_rents (
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		monthly_rent TEXT NOT NULL,
		PRIMARY KEY (tenant_id, property_id)
	);

	-- One bill run per (property, month). Created lazily, closed once.
	CREATE TABLE IF NOT EXISTS bill_runs (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		month_start TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		created_at TEXT NOT NULL,
		UNIQUE (property_id, month_start)
	);

	-- Regenerable while the run is open; tenant_id NULL = house account.
	CREATE TABLE IF NOT EXISTS bill_lines (
		id TEXT PRIMARY KEY,
		bill_run_id TEXT NOT NULL,
		tenant_id TEXT,
		utility TEXT NOT NULL,
		amount TEXT NOT NULL,
		detail_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bill_lines_run
		ON bill_lines(bill_run_id);

	-- Append-only ledger of absolute running balances.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT,
		idempotency_key TEXT UNIQUE,
		posted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_tenant_property_posted
		ON ledger_entries(tenant_id, property_id, posted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_property
		ON ledger_entries(property_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		received_at TEXT NOT NULL,
		accepted BOOLEAN NOT NULL DEFAULT FALSE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SEEDING (billing.Seeder)
// =============================================================================

// SaveProperty upserts a property.
func (s *Store) SaveProperty(ctx context.Context, p billing.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO properties (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Active, time.Now().UTC().Format(time.RFC3339))
	return err
}

// SaveTenancy upserts a tenancy and replaces its break intervals.
func (s *Store) SaveTenancy(ctx context.Context, t billing.Tenancy) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var endDate sql.NullString
	if t.End != nil {
		endDate = sql.NullString{String: t.End.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenancies (tenant_id, property_id, start_date, end_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, property_id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, t.TenantID, t.PropertyID, t.Start.String(), endDate)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM break_intervals WHERE tenant_id = ? AND property_id = ?",
		t.TenantID, t.PropertyID)
	if err != nil {
		return err
	}
	for _, b := range t.Breaks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO break_intervals (tenant_id, property_id, break_start, break_end)
			VALUES (?, ?, ?, ?)
		`, t.TenantID, t.PropertyID, b.Start.String(), b.End.String())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveUtilityActual upserts the actual cost for (property, month, utility).
func (s *Store) SaveUtilityActual(ctx context.Context, a billing.UtilityActual) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO utility_actuals (property_id, month_start, utility, amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(property_id, month_start, utility) DO UPDATE SET
			amount = excluded.amount
	`, a.PropertyID, a.Month.Key(), a.Utility, a.Amount.String())
	return err
}

// SaveDivisionRule upserts the method for (property, utility).
func (s *Store) SaveDivisionRule(ctx context.Context, r billing.DivisionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO division_rules (property_id, utility, method)
		VALUES (?, ?, ?)
		ON CONFLICT(property_id, utility) DO UPDATE SET
			method = excluded.method
	`, r.PropertyID, r.Utility, r.Method)
	return err
}

// SaveRent upserts the fixed monthly rent for (tenant, property).
func (s *Store) SaveRent(ctx context.Context, r billing.TenantRent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_rents (tenant_id, property_id, monthly_rent)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, property_id) DO UPDATE SET
			monthly_rent = excluded.monthly_rent
	`, r.TenantID, r.PropertyID, r.MonthlyRent.String())
	return err
}

// SavePayment records an inbound payment.
func (s *Store) SavePayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, property_id, amount, received_at, accepted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			received_at = excluded.received_at
	`, p.ID, p.TenantID, p.PropertyID, p.Amount.String(),
		p.ReceivedAt.UTC().Format(time.RFC3339), p.Accepted)
	return err
}

// =============================================================================
// READS (billing.Repository)
// =============================================================================

// Property returns nil when the id is unknown.
func (s *Store) Property(ctx context.Context, id billing.PropertyID) (*billing.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p billing.Property
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM properties WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Tenancies returns all tenancies for a property with breaks attached.
func (s *Store) Tenancies(ctx context.Context, propertyID billing.PropertyID) ([]billing.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, property_id, start_date, end_date
		FROM tenancies WHERE property_id = ?
		ORDER BY tenant_id
	`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenancies []billing.Tenancy
	for rows.Next() {
		var (
			t         billing.Tenancy
			startDate string
			endDate   sql.NullString
		)
		if err := rows.Scan(&t.TenantID, &t.PropertyID, &startDate, &endDate); err != nil {
			return nil, err
		}
		start, err := billing.ParseDate(startDate)
		if err != nil {
			return nil, fmt.Errorf("tenancy %s/%s: bad start_date %q: %w", t.TenantID, t.PropertyID, startDate, err)
		}
		t.Start = start
		// Lenient policy: an absent or unparsable end date means the
		// stay is ongoing through the month being billed.
		if endDate.Valid {
			if end, err := billing.ParseDate(endDate.String); err == nil {
				t.End = &end
			}
		}
		tenancies = append(tenancies, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tenancies {
		breaks, err := s.breaksFor(ctx, tenancies[i].TenantID, propertyID)
		if err != nil {
			return nil, err
		}
		tenancies[i].Breaks = breaks
	}
	return tenancies, nil
}

func (s *Store) breaksFor(ctx context.Context, tenantID billing.TenantID, propertyID billing.PropertyID) ([]billing.BreakInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT break_start, break_end FROM break_intervals
		WHERE tenant_id = ? AND property_id = ?
		ORDER BY break_start
	`, tenantID, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []billing.BreakInterval
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return nil, err
		}
		start, err := billing.ParseDate(startStr)
		if err != nil {
			return nil, err
		}
		end, err := billing.ParseDate(endStr)
		if err != nil {
			return nil, err
		}
		breaks = append(breaks, billing.BreakInterval{Start: start, End: end})
	}
	return breaks, rows.Err()
}

// UtilityActuals returns the recorded costs for the month, by utility.
func (s *Store) UtilityActuals(ctx context.Context, propertyID billing.PropertyID, month billing.Month) ([]billing.UtilityActual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT property_id, utility, amount FROM utility_actuals
		WHERE property_id = ? AND month_start = ?
		ORDER BY utility
	`, propertyID, month.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actuals []billing.UtilityActual
	for rows.Next() {
		var (
			a      billing.UtilityActual
			amount string
		)
		if err := rows.Scan(&a.PropertyID, &a.Utility, &amount); err != nil {
			return nil, err
		}
		a.Month = month
		a.Amount = billing.MustParseDecimal(amount)
		actuals = append(actuals, a)
	}
	return actuals, rows.Err()
}

// DivisionRules returns the configured method per utility.
func (s *Store) DivisionRules(ctx context.Context, propertyID billing.PropertyID) (map[billing.Utility]billing.DivisionMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT utility, method FROM division_rules WHERE property_id = ?", propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make(map[billing.Utility]billing.DivisionMethod)
	for rows.Next() {
		var utility, method string
		if err := rows.Scan(&utility, &method); err != nil {
			return nil, err
		}
		rules[billing.Utility(utility)] = billing.DivisionMethod(method)
	}
	return rules, rows.Err()
}

// Rents returns the fixed monthly rent rows.
func (s *Store) Rents(ctx context.Context, propertyID billing.PropertyID) ([]billing.TenantRent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, property_id, monthly_rent FROM tenant_rents
		WHERE property_id = ?
		ORDER BY tenant_id
	`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rents []billing.TenantRent
	for rows.Next() {
		var (
			r      billing.TenantRent
			amount string
		)
		if err := rows.Scan(&r.TenantID, &r.PropertyID, &amount); err != nil {
			return nil, err
		}
		r.MonthlyRent = billing.MustParseDecimal(amount)
		rents = append(rents, r)
	}
	return rents, rows.Err()
}

// =============================================================================
// BILL RUNS
// =============================================================================

// FindBillRun returns the run for the key, or nil when none exists.
func (s *Store) FindBillRun(ctx context.Context, propertyID billing.PropertyID, month billing.Month) (*billing.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findBillRun(ctx, propertyID, month)
}

func (s *Store) findBillRun(ctx context.Context, propertyID billing.PropertyID, month billing.Month) (*billing.BillRun, error) {
	var (
		run       billing.BillRun
		monthKey  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, property_id, month_start, status, created_at
		FROM bill_runs WHERE property_id = ? AND month_start = ?
	`, propertyID, month.Key()).Scan(&run.ID, &run.PropertyID, &monthKey, &run.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Month, _ = billing.ParseMonth(monthKey)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &run, nil
}

// ResolveBillRun returns the run for the key, creating an open one when
// none exists. The unique (property_id, month_start) index makes the
// create race-safe: the loser re-reads the winner's row.
func (s *Store) ResolveBillRun(ctx context.Context, propertyID billing.PropertyID, month billing.Month) (*billing.BillRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, err := s.findBillRun(ctx, propertyID, month); err != nil || run != nil {
		return run, err
	}

	run := billing.BillRun{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		Month:      month,
		Status:     billing.BillRunOpen,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bill_runs (id, property_id, month_start, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.PropertyID, month.Key(), run.Status, run.CreatedAt.Format(time.RFC3339))
	if isUniqueConstraintError(err) {
		return s.findBillRun(ctx, propertyID, month)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create bill run: %w", err)
	}
	return &run, nil
}

// CloseBillRun transitions open->closed with a conditional update.
func (s *Store) CloseBillRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE bill_runs SET status = ? WHERE id = ? AND status = ?",
		billing.BillRunClosed, runID, billing.BillRunOpen)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			"SELECT status FROM bill_runs WHERE id = ?", runID).Scan(&status)
		if err == sql.ErrNoRows {
			return &billing.NotFoundError{Kind: "bill_run", ID: runID}
		}
		if err != nil {
			return err
		}
		return billing.ErrDuplicateCalculation
	}
	return nil
}

// ReplaceBillLines atomically deletes the run's lines and inserts the
// new set.
func (s *Store) ReplaceBillLines(ctx context.Context, runID string, lines []billing.BillLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bill_lines WHERE bill_run_id = ?", runID); err != nil {
		return err
	}

	for _, line := range lines {
		detail, err := billing.MarshalDetail(line.Detail)
		if err != nil {
			return err
		}
		var tenantID sql.NullString
		if line.TenantID != nil {
			tenantID = sql.NullString{String: string(*line.TenantID), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bill_lines (id, bill_run_id, tenant_id, utility, amount, detail_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, line.ID, runID, tenantID, line.Utility, line.Amount.String(), string(detail))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// BillLines returns the run's current lines.
func (s *Store) BillLines(ctx context.Context, runID string) ([]billing.BillLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_run_id, tenant_id, utility, amount, detail_json
		FROM bill_lines WHERE bill_run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []billing.BillLine
	for rows.Next() {
		var (
			line       billing.BillLine
			tenantID   sql.NullString
			amount     string
			detailJSON string
		)
		if err := rows.Scan(&line.ID, &line.BillRunID, &tenantID, &line.Utility, &amount, &detailJSON); err != nil {
			return nil, err
		}
		if tenantID.Valid {
			id := billing.TenantID(tenantID.String)
			line.TenantID = &id
		}
		line.Amount = billing.MustParseDecimal(amount)
		detail, err := billing.UnmarshalDetail([]byte(detailJSON))
		if err != nil {
			return nil, fmt.Errorf("bill line %s: %w", line.ID, err)
		}
		line.Detail = detail
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetBillRun returns a run by id, or nil when unknown.
func (s *Store) GetBillRun(ctx context.Context, runID string) (*billing.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		run       billing.BillRun
		monthKey  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, property_id, month_start, status, created_at
		FROM bill_runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.PropertyID, &monthKey, &run.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Month, _ = billing.ParseMonth(monthKey)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &run, nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

const ledgerColumns = "id, tenant_id, property_id, balance, source_type, source_id, idempotency_key, posted_at"

// Fixed-width so stored timestamps sort lexicographically. RFC3339Nano
// trims trailing zeros, which breaks ORDER BY posted_at.
const postedAtFormat = "2006-01-02T15:04:05.000000000Z"

// LatestEntry returns the newest entry for (tenant, property), or nil.
func (s *Store) LatestEntry(ctx context.Context, tenantID billing.TenantID, propertyID billing.PropertyID) (*billing.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE tenant_id = ? AND property_id = ?
		ORDER BY posted_at DESC, rowid DESC LIMIT 1
	`, tenantID, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanLedgerEntry(rows)
}

// LatestEntries batch-reads the newest entry per tenant for a property.
func (s *Store) LatestEntries(ctx context.Context, propertyID billing.PropertyID) (map[billing.TenantID]billing.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries e
		WHERE e.property_id = ? AND e.rowid = (
			SELECT e2.rowid FROM ledger_entries e2
			WHERE e2.tenant_id = e.tenant_id AND e2.property_id = e.property_id
			ORDER BY e2.posted_at DESC, e2.rowid DESC LIMIT 1
		)
	`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[billing.TenantID]billing.LedgerEntry)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		result[entry.TenantID] = *entry
	}
	return result, rows.Err()
}

// AppendEntry appends one immutable entry. The ONLY write to the ledger.
func (s *Store) AppendEntry(ctx context.Context, entry billing.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, property_id, balance, source_type, source_id, idempotency_key, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TenantID, entry.PropertyID, entry.Balance.String(),
		entry.SourceType, entry.SourceID, nullString(entry.IdempotencyKey),
		entry.PostedAt.UTC().Format(postedAtFormat))

	if isUniqueConstraintError(err) {
		return billing.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Entries returns the full history for (tenant, property) by PostedAt.
func (s *Store) Entries(ctx context.Context, tenantID billing.TenantID, propertyID billing.PropertyID) ([]billing.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE tenant_id = ? AND property_id = ?
		ORDER BY posted_at ASC, rowid ASC
	`, tenantID, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []billing.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(rows *sql.Rows) (*billing.LedgerEntry, error) {
	var (
		entry          billing.LedgerEntry
		balance        string
		sourceID       sql.NullString
		idempotencyKey sql.NullString
		postedAt       string
	)
	err := rows.Scan(&entry.ID, &entry.TenantID, &entry.PropertyID, &balance,
		&entry.SourceType, &sourceID, &idempotencyKey, &postedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	entry.Balance = billing.MustParseDecimal(balance)
	entry.SourceID = sourceID.String
	entry.IdempotencyKey = idempotencyKey.String
	entry.PostedAt, _ = time.Parse(postedAtFormat, postedAt)
	return &entry, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// Payment returns nil when the id is unknown.
func (s *Store) Payment(ctx context.Context, id string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p          billing.Payment
		amount     string
		receivedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, property_id, amount, received_at, accepted
		FROM payments WHERE id = ?
	`, id).Scan(&p.ID, &p.TenantID, &p.PropertyID, &amount, &receivedAt, &p.Accepted)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Amount = billing.MustParseDecimal(amount)
	p.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	return &p, nil
}

// MarkPaymentAccepted flips the accepted flag.
func (s *Store) MarkPaymentAccepted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET accepted = TRUE WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &billing.NotFoundError{Kind: "payment", ID: id}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
