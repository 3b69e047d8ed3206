package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

const (
	VendorGeneric          = "generic"
	genericSignatureHeader = "X-Signature"
	genericEventIDHeader   = "X-Event-Id"
)

// GenericNormalizer accepts payloads that already use the canonical field names.
// It backs vendors without a dedicated adapter and local testing via scripts/calc_signature.
type GenericNormalizer struct{}

func NewGenericNormalizer() *GenericNormalizer {
	return &GenericNormalizer{}
}

func (n *GenericNormalizer) Namespace() string       { return VendorGeneric }
func (n *GenericNormalizer) SignatureHeader() string { return genericSignatureHeader }

type genericPayload struct {
	EventID     string             `json:"event_id"`
	SubjectRef  string             `json:"subject_ref"`
	EventType   string             `json:"event_type"`
	OccurredAt  *time.Time         `json:"occurred_at"`
	Person      domain.Person      `json:"person"`
	Document    domain.Document    `json:"document"`
	RiskSignals domain.RiskSignals `json:"risk_signals"`
}

func (n *GenericNormalizer) Normalize(body []byte, headers map[string]string) (*domain.VerificationEvent, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.ErrMalformedPayload.WithError(err)
	}

	eventID := strings.TrimSpace(p.EventID)
	if eventID == "" {
		eventID = HeaderValue(headers, genericEventIDHeader)
	}
	if eventID == "" {
		return nil, domain.ErrMalformedPayload.WithError(errors.New("event_id is required"))
	}

	ev := &domain.VerificationEvent{
		Vendor:      VendorGeneric,
		EventID:     eventID,
		SubjectRef:  strings.TrimSpace(p.SubjectRef),
		EventType:   domain.ParseEventType(strings.ToLower(strings.TrimSpace(p.EventType))),
		OccurredAt:  p.OccurredAt,
		Person:      compactPerson(p.Person),
		Document:    compactDocument(p.Document),
		RiskSignals: p.RiskSignals,
	}
	ev.RiskSignals.Reason = optString(ev.RiskSignals.Reason)

	if ev.SubjectRef == "" {
		return ev, domain.ErrMissingSubject
	}
	return ev, nil
}
