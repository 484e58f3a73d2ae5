/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Setup:
    CreatePropertyRequest, CreateTenancyRequest, BreakDTO,
    SaveActualRequest, SaveRuleRequest, SaveRentRequest,
    CreatePaymentRequest

  Billing:
    preview/confirm/run responses reuse the billing package payloads
    directly (billing.PreviewPayload, billing.CommitResult,
    billing.RunSummary) since those are already wire-shaped.

  Ledger:
    BalanceDTO, LedgerEntryDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/preview.go: PreviewPayload, CommitResult
*/
package api

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePropertyRequest is the request to register a property.
type CreatePropertyRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BreakDTO is one declared absence interval inside a tenancy.
type BreakDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CreateTenancyRequest is the request to record a tenancy.
// EndDate may be empty for an ongoing tenancy.
type CreateTenancyRequest struct {
	TenantID  string     `json:"tenant_id"`
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date,omitempty"`
	Breaks    []BreakDTO `json:"breaks,omitempty"`
}

// SaveActualRequest records a utility's actual amount for a month.
type SaveActualRequest struct {
	Utility string `json:"utility"`
	Month   string `json:"month"`
	Amount  string `json:"amount"`
}

// SaveRuleRequest sets the division method for a utility.
type SaveRuleRequest struct {
	Utility string `json:"utility"`
	Method  string `json:"method"`
}

// SaveRentRequest sets a tenant's monthly rent.
type SaveRentRequest struct {
	TenantID string `json:"tenant_id"`
	Amount   string `json:"amount"`
}

// CreatePaymentRequest registers a pending payment for later acceptance.
type CreatePaymentRequest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Amount   string `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is a tenant's current ledger balance.
type BalanceDTO struct {
	TenantID   string `json:"tenant_id"`
	PropertyID string `json:"property_id"`
	Balance    string `json:"balance"`
}

// LedgerEntryDTO represents one ledger entry in API responses.
type LedgerEntryDTO struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	PropertyID string `json:"property_id"`
	Balance    string `json:"balance"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	PostedAt   string `json:"posted_at"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
