package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventType is the normalized kind of an inbound vendor callback
type EventType string

const (
	EventCreated   EventType = "created"
	EventSubmitted EventType = "submitted"
	EventApproved  EventType = "approved"
	EventDeclined  EventType = "declined"
	EventExpired   EventType = "expired"
	EventUnknown   EventType = "unknown"
)

// ParseEventType maps a raw value onto a known EventType, falling back to EventUnknown.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventCreated, EventSubmitted, EventApproved, EventDeclined, EventExpired:
		return EventType(s)
	default:
		return EventUnknown
	}
}

// Status is the lifecycle state of a canonical verification record
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusCreated    Status = "created"
	StatusSubmitted  Status = "submitted"
	StatusApproved   Status = "approved"
	StatusDeclined   Status = "declined"
	StatusExpired    Status = "expired"
)

// IsTerminal reports whether no further status transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusExpired
}

// ProcessingStatus tracks a ledger row through processing
type ProcessingStatus string

const (
	ProcessingPending ProcessingStatus = "pending"
	ProcessingSuccess ProcessingStatus = "success"
	ProcessingError   ProcessingStatus = "error"
)

// Outcome records what reconciliation did with an event
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeMerged    Outcome = "merged"
	OutcomeNoop      Outcome = "noop"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAnomaly   Outcome = "anomaly"
)

// Person holds normalized identity fields; every field is independently optional.
type Person struct {
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	DateOfBirth  *string `json:"date_of_birth,omitempty"`
	Nationality  *string `json:"nationality,omitempty"`
	Gender       *string `json:"gender,omitempty"`
	IDNumber     *string `json:"id_number,omitempty"`
	PlaceOfBirth *string `json:"place_of_birth,omitempty"`
}

// Document holds normalized identity document fields.
type Document struct {
	Type       *string `json:"type,omitempty"`
	Number     *string `json:"number,omitempty"`
	Country    *string `json:"country,omitempty"`
	ValidFrom  *string `json:"valid_from,omitempty"`
	ValidUntil *string `json:"valid_until,omitempty"`
	Issuer     *string `json:"issuer,omitempty"`
}

// RiskSignals holds vendor scoring output. Scores are opaque vendor values.
type RiskSignals struct {
	FaceMatchScore *float64 `json:"face_match_score,omitempty"`
	DecisionScore  *float64 `json:"decision_score,omitempty"`
	QualityFlags   []string `json:"quality_flags,omitempty"`
	Reason         *string  `json:"reason,omitempty"`
	ReasonCode     *int     `json:"reason_code,omitempty"`
}

// VerificationEvent is one trusted inbound callback as stored in the event ledger.
// Only ProcessingStatus, ProcessedAt, RetryCount, NextRetryAt, Error, Permanent and
// Outcome change after insert.
type VerificationEvent struct {
	ID               uuid.UUID        `json:"id"`
	Vendor           string           `json:"vendor"`
	EventID          string           `json:"event_id"`
	SubjectRef       string           `json:"subject_ref"`
	EventType        EventType        `json:"event_type"`
	RawPayload       []byte           `json:"-"`
	ReceivedAt       time.Time        `json:"received_at"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	RetryCount       int              `json:"retry_count"`
	NextRetryAt      *time.Time       `json:"next_retry_at,omitempty"`
	Error            *string          `json:"error,omitempty"`
	Permanent        bool             `json:"permanent"`
	Outcome          *Outcome         `json:"outcome,omitempty"`

	// Normalized vendor data, derived from RawPayload and not persisted as columns.
	OccurredAt  *time.Time  `json:"-"`
	Person      Person      `json:"-"`
	Document    Document    `json:"-"`
	RiskSignals RiskSignals `json:"-"`
}

// VerificationRecord is the canonical, per-subject reconciled verification state.
type VerificationRecord struct {
	SubjectRef     string      `json:"subject_ref"`
	Vendor         string      `json:"vendor"`
	Status         Status      `json:"status"`
	IsVerified     bool        `json:"is_verified"`
	Person         Person      `json:"person"`
	Document       Document    `json:"document"`
	RiskSignals    RiskSignals `json:"risk_signals"`
	LastEventID    string      `json:"last_event_id,omitempty"`
	LastAdvancedAt *time.Time  `json:"last_advanced_at,omitempty"`
	NeedsReview    bool        `json:"needs_review"`
	ReviewReason   *string     `json:"review_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	// Most recent event ids already folded into the record, oldest first.
	AppliedEventIDs []string `json:"applied_event_ids,omitempty"`
}

// Clone returns a deep copy so reconciliation never mutates its input.
func (r *VerificationRecord) Clone() *VerificationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Person = r.Person.clone()
	c.Document = r.Document.clone()
	c.RiskSignals = r.RiskSignals.clone()
	c.LastAdvancedAt = cloneTime(r.LastAdvancedAt)
	c.ReviewReason = cloneString(r.ReviewReason)
	if r.AppliedEventIDs != nil {
		c.AppliedEventIDs = append([]string(nil), r.AppliedEventIDs...)
	}
	return &c
}

// HasApplied reports whether eventID was already folded into the record.
func (r *VerificationRecord) HasApplied(eventID string) bool {
	if r.LastEventID != "" && r.LastEventID == eventID {
		return true
	}
	return slices.Contains(r.AppliedEventIDs, eventID)
}

// RejectedAttempt is an untrusted callback kept only for security monitoring.
type RejectedAttempt struct {
	ID               uuid.UUID `json:"id"`
	Vendor           string    `json:"vendor"`
	Reason           string    `json:"reason"`
	BodySHA256       string    `json:"body_sha256"`
	SignaturePresent bool      `json:"signature_present"`
	RemoteIP         string    `json:"remote_ip,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

func (p Person) clone() Person {
	return Person{
		FirstName:    cloneString(p.FirstName),
		LastName:     cloneString(p.LastName),
		DateOfBirth:  cloneString(p.DateOfBirth),
		Nationality:  cloneString(p.Nationality),
		Gender:       cloneString(p.Gender),
		IDNumber:     cloneString(p.IDNumber),
		PlaceOfBirth: cloneString(p.PlaceOfBirth),
	}
}

func (d Document) clone() Document {
	return Document{
		Type:       cloneString(d.Type),
		Number:     cloneString(d.Number),
		Country:    cloneString(d.Country),
		ValidFrom:  cloneString(d.ValidFrom),
		ValidUntil: cloneString(d.ValidUntil),
		Issuer:     cloneString(d.Issuer),
	}
}

func (r RiskSignals) clone() RiskSignals {
	c := RiskSignals{
		FaceMatchScore: cloneFloat(r.FaceMatchScore),
		DecisionScore:  cloneFloat(r.DecisionScore),
		Reason:         cloneString(r.Reason),
	}
	if r.ReasonCode != nil {
		v := *r.ReasonCode
		c.ReasonCode = &v
	}
	if r.QualityFlags != nil {
		c.QualityFlags = append([]string(nil), r.QualityFlags...)
	}
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
