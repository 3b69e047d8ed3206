package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// WebhookAck is returned for every durably recorded webhook delivery
type WebhookAck struct {
	Received    bool   `json:"received" example:"true"`
	EventID     string `json:"event_id" example:"f04bdb47-d3be-4b28-b028-a652feb060b5:decision:approved"`
	Duplicate   bool   `json:"duplicate" example:"false"`
	Disposition string `json:"disposition" example:"processed"`
}

// PersonData represents normalized identity fields
type PersonData struct {
	FirstName   string `json:"first_name,omitempty" example:"ANA"`
	LastName    string `json:"last_name,omitempty" example:"POPESCU"`
	DateOfBirth string `json:"date_of_birth,omitempty" example:"1990-05-14"`
	Nationality string `json:"nationality,omitempty" example:"RO"`
	IDNumber    string `json:"id_number,omitempty" example:"2900514123456"`
}

// DocumentData represents normalized identity document fields
type DocumentData struct {
	Type       string `json:"type,omitempty" example:"PASSPORT"`
	Number     string `json:"number,omitempty" example:"A1"`
	Country    string `json:"country,omitempty" example:"RO"`
	ValidUntil string `json:"valid_until,omitempty" example:"2031-01-01"`
}

// RiskSignalsData represents opaque vendor scoring output
type RiskSignalsData struct {
	FaceMatchScore float64  `json:"face_match_score,omitempty" example:"0.97"`
	DecisionScore  float64  `json:"decision_score,omitempty" example:"0.91"`
	QualityFlags   []string `json:"quality_flags,omitempty" example:"blurry_document"`
	Reason         string   `json:"reason,omitempty" example:"Document expired"`
}

// VerificationRecordResponse represents the canonical verification record
type VerificationRecordResponse struct {
	SubjectRef     string          `json:"subject_ref" example:"user-123"`
	Vendor         string          `json:"vendor" example:"veriff"`
	Status         string          `json:"status" example:"approved"`
	IsVerified     bool            `json:"is_verified" example:"true"`
	Person         PersonData      `json:"person"`
	Document       DocumentData    `json:"document"`
	RiskSignals    RiskSignalsData `json:"risk_signals"`
	LastEventID    string          `json:"last_event_id" example:"f04bdb47:decision:approved"`
	LastAdvancedAt string          `json:"last_advanced_at" example:"2024-01-01T00:00:00Z"`
	NeedsReview    bool            `json:"needs_review" example:"false"`
	ReviewReason   string          `json:"review_reason,omitempty" example:""`
	CreatedAt      string          `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt      string          `json:"updated_at" example:"2024-01-01T00:00:00Z"`

	AppliedEventIDs []string `json:"applied_event_ids,omitempty"`
}

// EventResponse represents one ledger row
type EventResponse struct {
	ID               string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Vendor           string `json:"vendor" example:"veriff"`
	EventID          string `json:"event_id" example:"f04bdb47:submitted"`
	SubjectRef       string `json:"subject_ref" example:"user-123"`
	EventType        string `json:"event_type" example:"submitted"`
	ReceivedAt       string `json:"received_at" example:"2024-01-01T00:00:00Z"`
	ProcessingStatus string `json:"processing_status" example:"error"`
	ProcessedAt      string `json:"processed_at,omitempty" example:"2024-01-01T00:00:01Z"`
	RetryCount       int    `json:"retry_count" example:"2"`
	NextRetryAt      string `json:"next_retry_at,omitempty" example:"2024-01-01T00:00:09Z"`
	Error            string `json:"error,omitempty" example:"load record: connection refused"`
	Permanent        bool   `json:"permanent" example:"false"`
	Outcome          string `json:"outcome,omitempty" example:"applied"`
}

// EventDetailResponse is an event with its stored raw payload
type EventDetailResponse struct {
	EventResponse
	RawPayload map[string]any `json:"raw_payload"`
}

// EventListResponse represents a page of ledger rows
type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Count  int             `json:"count" example:"1"`
}

// ReplayResponse represents the result of an operator replay
type ReplayResponse struct {
	ID          string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Disposition string `json:"disposition" example:"processed"`
}

// HealthResponse represents liveness and readiness output
type HealthResponse struct {
	Status  string            `json:"status" example:"ok"`
	Version string            `json:"version,omitempty" example:"0.1.0"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "idvsync API",
		Version:     "v1.0.0",
		Description: "Identity-verification webhook ingestion and reconciliation. Vendors push signed callbacks; the service keeps one canonical verification record per subject.",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	internalError := response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	unauthorized := response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized")

	endpoints := []*endpoint.EndPoint{
		// POST /v1/webhooks/{vendor} - Receive vendor callback
		endpoint.New(
			endpoint.POST,
			"/webhooks/{vendor}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Receive a signed vendor webhook"),
			endpoint.WithDescription("Verifies the HMAC-SHA256 signature over the raw body (vendor-specific header, e.g. X-HMAC-SIGNATURE for veriff, X-Signature for generic), records the event idempotently and reconciles it. A 2xx means the event is durably recorded, not that it changed status."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("vendor", parameter.Path, parameter.WithDescription("Vendor namespace (veriff, generic)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookAck{}, "200", "Event recorded"),
				response.New(WebhookAck{Duplicate: true, Disposition: "duplicate"}, "200", "Duplicate delivery"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "INVALID_SIGNATURE", Message: "Webhook signature verification failed"}, "401", "Unauthorized"),
				response.New(ErrorResponse{Code: "UNKNOWN_VENDOR", Message: "Unknown verification vendor"}, "404", "Not Found"),
				response.New(ErrorResponse{Code: "PAYLOAD_TOO_LARGE", Message: "Request Entity Too Large"}, "413", "Payload Too Large"),
				response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests"),
				response.New(ErrorResponse{Code: "LEDGER_UNAVAILABLE", Message: "Event could not be recorded, retry later"}, "503", "Service Unavailable"),
			}),
		),

		// GET /v1/verifications/{subject_ref} - Canonical record
		endpoint.New(
			endpoint.GET,
			"/verifications/{subject_ref}",
			endpoint.WithTags("Verifications"),
			endpoint.WithSummary("Get the verification status of a subject"),
			endpoint.WithDescription("Returns the canonical reconciled record. is_verified is true only when status is approved."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("subject_ref", parameter.Path, parameter.WithDescription("Subject reference passed to the vendor as vendor data")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(VerificationRecordResponse{}, "200", "Record found"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				response.New(ErrorResponse{Code: "VERIFICATION_NOT_FOUND", Message: "No verification record for this subject"}, "404", "Not Found"),
				internalError,
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// GET /v1/events - List ledger rows
		endpoint.New(
			endpoint.GET,
			"/events",
			endpoint.WithTags("Events"),
			endpoint.WithSummary("List ledger events"),
			endpoint.WithDescription("Lists inbound events newest first, for operators inspecting failures"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("status", parameter.Query, parameter.WithDescription("pending, success or error")),
				parameter.StrParam("vendor", parameter.Query, parameter.WithDescription("Vendor namespace")),
				parameter.StrParam("subject_ref", parameter.Query, parameter.WithDescription("Subject reference")),
				parameter.IntParam("limit", parameter.Query, parameter.WithDescription("Page size (default 50, max 500)")),
				parameter.IntParam("offset", parameter.Query, parameter.WithDescription("Rows to skip")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EventListResponse{}, "200", "Events listed"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity"),
				unauthorized,
				internalError,
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// GET /v1/events/{id} - Event detail
		endpoint.New(
			endpoint.GET,
			"/events/{id}",
			endpoint.WithTags("Events"),
			endpoint.WithSummary("Get one ledger event with its raw payload"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Ledger row UUID")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EventDetailResponse{}, "200", "Event found"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request"),
				unauthorized,
				response.New(ErrorResponse{Code: "EVENT_NOT_FOUND", Message: "Verification event not found"}, "404", "Not Found"),
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// POST /v1/events/{id}/replay - Operator replay
		endpoint.New(
			endpoint.POST,
			"/events/{id}/replay",
			endpoint.WithTags("Events"),
			endpoint.WithSummary("Replay a failed event"),
			endpoint.WithDescription("Resets a failed event's retry budget and processes it again immediately"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Ledger row UUID")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(ReplayResponse{}, "200", "Event replayed"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request"),
				unauthorized,
				response.New(ErrorResponse{Code: "EVENT_NOT_REPLAYABLE", Message: "Only failed events can be replayed"}, "409", "Conflict"),
				internalError,
			}),
			endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}}),
		),

		// GET /health - Liveness
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Liveness probe"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Service is up"),
			}),
		),

		// GET /ready - Readiness
		endpoint.New(
			endpoint.GET,
			"/ready",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Readiness probe"),
			endpoint.WithDescription("Checks database connectivity"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{Status: "ready"}, "200", "Ready"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(HealthResponse{Status: "unavailable"}, "503", "Not ready"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
