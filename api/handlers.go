/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the bill calculation and ledger engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic in the billing package.

ENDPOINTS:
  Setup:
    POST   /api/properties                           Register property
    POST   /api/properties/{id}/tenancies            Record tenancy
    POST   /api/properties/{id}/actuals              Record utility actual
    POST   /api/properties/{id}/rules                Set division rule
    POST   /api/properties/{id}/rents                Set tenant rent
    POST   /api/payments                             Register payment

  Billing:
    POST   /api/properties/{id}/bill-runs/run        Compute and post
    POST   /api/properties/{id}/bill-runs/preview    Dry-run, no writes
    POST   /api/properties/{id}/bill-runs/confirm    Persist a preview
    GET    /api/properties/{id}/bill-runs/{runID}/statement.xlsx

  Ledger:
    GET    /api/properties/{id}/tenants/{tid}/balance
    GET    /api/properties/{id}/tenants/{tid}/ledger
    POST   /api/payments/{id}/accept

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Duplicate calculation (run already closed)
  - 422: Calculation invariant violations
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing/coordinator.go: Run/AcceptPayment
  - billing/preview.go: Preview/Confirm
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hearth/billing-engine/billing"
	"github.com/hearth/billing-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Repository is the store surface the handlers need: reads plus the
// seeding writes used by the setup endpoints.
type Repository interface {
	billing.Repository
	billing.Seeder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	Repo   Repository
	Log    *zap.Logger
}

// NewHandler creates a new handler around the given store.
func NewHandler(repo Repository, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine: billing.NewEngine(repo),
		Repo:   repo,
		Log:    log,
	}
}

// =============================================================================
// SETUP ENDPOINTS
// =============================================================================

// CreateProperty registers a property.
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req CreatePropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Property id is required", nil)
		return
	}

	p := billing.Property{ID: billing.PropertyID(req.ID), Name: req.Name, Active: true}
	if err := h.Repo.SaveProperty(r.Context(), p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// CreateTenancy records a tenancy for a property. An empty end_date
// means the stay is ongoing.
func (h *Handler) CreateTenancy(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))

	var req CreateTenancyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	t := billing.Tenancy{
		TenantID:   billing.TenantID(req.TenantID),
		PropertyID: propertyID,
		Start:      start,
	}
	// Lenient on end dates: unparsable means ongoing.
	if req.EndDate != "" {
		if end, err := billing.ParseDate(req.EndDate); err == nil {
			t.End = &end
		}
	}
	for _, b := range req.Breaks {
		bs, err := billing.ParseDate(b.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid break start format (use YYYY-MM-DD)", err)
			return
		}
		be, err := billing.ParseDate(b.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid break end format (use YYYY-MM-DD)", err)
			return
		}
		t.Breaks = append(t.Breaks, billing.BreakInterval{Start: bs, End: be})
	}

	if err := h.Repo.SaveTenancy(r.Context(), t); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// SaveActual records a utility's actual cost for a month.
func (h *Handler) SaveActual(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))

	var req SaveActualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	month, err := billing.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month format (use YYYY-MM)", err)
		return
	}
	amount, err := decimalFrom(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	a := billing.UtilityActual{
		PropertyID: propertyID,
		Month:      month,
		Utility:    billing.Utility(req.Utility),
		Amount:     amount,
	}
	if err := h.Repo.SaveUtilityActual(r.Context(), a); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// SaveRule sets the division method for a utility at a property.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	method := billing.DivisionMethod(req.Method)
	switch method {
	case billing.MethodFixed, billing.MethodEqualShare, billing.MethodByDays:
	default:
		writeError(w, http.StatusBadRequest, "Unknown division method", nil)
		return
	}

	rule := billing.DivisionRule{
		PropertyID: propertyID,
		Utility:    billing.Utility(req.Utility),
		Method:     method,
	}
	if err := h.Repo.SaveDivisionRule(r.Context(), rule); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// SaveRent sets a tenant's monthly rent at a property.
func (h *Handler) SaveRent(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))

	var req SaveRentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimalFrom(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	rent := billing.TenantRent{
		TenantID:    billing.TenantID(req.TenantID),
		PropertyID:  propertyID,
		MonthlyRent: amount,
	}
	if err := h.Repo.SaveRent(r.Context(), rent); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rent)
}

// CreatePayment registers a pending payment. It affects no balance
// until accepted.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Payment id is required", nil)
		return
	}
	amount, err := decimalFrom(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p := billing.Payment{
		ID:         req.ID,
		TenantID:   billing.TenantID(req.TenantID),
		PropertyID: propertyID,
		Amount:     amount,
		ReceivedAt: receivedNow(),
	}
	if err := h.Repo.SavePayment(r.Context(), p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// =============================================================================
// BILL RUN ENDPOINTS
// =============================================================================

// RunBillRun computes the month's bill and posts the resulting ledger
// entries in one step.
func (h *Handler) RunBillRun(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))
	month, err := billing.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month format (use YYYY-MM)", err)
		return
	}

	summary, err := h.Engine.Run(r.Context(), propertyID, month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.Log.Info("bill run completed",
		zap.String("property_id", string(propertyID)),
		zap.String("month", month.String()),
		zap.String("bill_run_id", summary.BillRunID),
		zap.Int("lines", summary.LinesCreated))
	writeJSON(w, http.StatusOK, summary)
}

// PreviewBillRun computes the month's bill without writing anything.
// The returned payload can be posted back to ConfirmBillRun.
func (h *Handler) PreviewBillRun(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))
	month, err := billing.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month format (use YYYY-MM)", err)
		return
	}

	payload, err := h.Engine.Preview(r.Context(), propertyID, month)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// ConfirmBillRun persists a previously previewed payload and closes
// the bill run.
func (h *Handler) ConfirmBillRun(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))
	month, err := billing.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month format (use YYYY-MM)", err)
		return
	}

	var payload billing.PreviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid preview payload", err)
		return
	}

	result, err := h.Engine.Confirm(r.Context(), propertyID, month, &payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.Log.Info("bill run confirmed",
		zap.String("property_id", string(propertyID)),
		zap.String("month", month.String()),
		zap.String("bill_run_id", result.BillRunID))
	writeJSON(w, http.StatusOK, result)
}

// Statement streams a bill run's lines as an xlsx workbook.
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.Repo.GetBillRun(r.Context(), runID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Bill run not found", nil)
		return
	}
	lines, err := h.Repo.BillLines(r.Context(), runID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="statement-`+run.Month.String()+`.xlsx"`)
	if err := report.WriteStatement(w, *run, lines); err != nil {
		h.Log.Error("statement export failed", zap.String("bill_run_id", runID), zap.Error(err))
	}
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// GetBalance returns a tenant's current balance at a property.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))
	tenantID := billing.TenantID(chi.URLParam(r, "tid"))

	balance, err := h.Engine.CurrentBalance(r.Context(), tenantID, propertyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		TenantID:   string(tenantID),
		PropertyID: string(propertyID),
		Balance:    balance.StringFixed(2),
	})
}

// GetLedger returns a tenant's full ledger history, oldest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	propertyID := billing.PropertyID(chi.URLParam(r, "id"))
	tenantID := billing.TenantID(chi.URLParam(r, "tid"))

	entries, err := h.Engine.Ledger().History(r.Context(), tenantID, propertyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AcceptPayment applies a registered payment to the tenant's balance.
func (h *Handler) AcceptPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	entry, err := h.Engine.AcceptPayment(r.Context(), paymentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.Log.Info("payment accepted",
		zap.String("payment_id", paymentID),
		zap.String("tenant_id", string(entry.TenantID)))
	writeJSON(w, http.StatusOK, toLedgerEntryDTO(*entry))
}

// =============================================================================
// HELPERS
// =============================================================================

const timeFormat = time.RFC3339

func decimalFrom(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	return decimal.NewFromString(s)
}

func receivedNow() time.Time { return time.Now().UTC() }

func toLedgerEntryDTO(e billing.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:         e.ID,
		TenantID:   string(e.TenantID),
		PropertyID: string(e.PropertyID),
		Balance:    e.Balance.StringFixed(2),
		SourceType: string(e.SourceType),
		SourceID:   e.SourceID,
		PostedAt:   e.PostedAt.Format(timeFormat),
	}
}

// writeDomainError maps billing package errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, billing.ErrDuplicateCalculation),
		errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Already finalized", err)
	case errors.Is(err, billing.ErrInvariant):
		writeError(w, http.StatusUnprocessableEntity, "Calculation invariant violated", err)
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
