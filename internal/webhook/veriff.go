package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

const (
	VendorVeriff          = "veriff"
	veriffSignatureHeader = "X-HMAC-SIGNATURE"
)

// VeriffNormalizer handles both Veriff callback families: session event webhooks
// (action started/submitted) and decision webhooks (verification.status).
type VeriffNormalizer struct{}

func NewVeriffNormalizer() *VeriffNormalizer {
	return &VeriffNormalizer{}
}

func (n *VeriffNormalizer) Namespace() string       { return VendorVeriff }
func (n *VeriffNormalizer) SignatureHeader() string { return veriffSignatureHeader }

type veriffPayload struct {
	// event webhook
	ID         string  `json:"id"`
	AttemptID  string  `json:"attemptId"`
	Feature    string  `json:"feature"`
	Code       int     `json:"code"`
	Action     string  `json:"action"`
	VendorData *string `json:"vendorData"`

	// decision webhook
	Status       string              `json:"status"`
	Verification *veriffVerification `json:"verification"`
}

type veriffVerification struct {
	ID           string         `json:"id"`
	AttemptID    string         `json:"attemptId"`
	Code         int            `json:"code"`
	Status       string         `json:"status"`
	Reason       *string        `json:"reason"`
	ReasonCode   *int           `json:"reasonCode"`
	VendorData   *string        `json:"vendorData"`
	DecisionTime *time.Time     `json:"decisionTime"`
	Person       veriffPerson   `json:"person"`
	Document     veriffDocument `json:"document"`
	RiskScore    *veriffScore   `json:"riskScore"`
	RiskLabels   []veriffLabel  `json:"riskLabels"`
	FaceMatch    *veriffScore   `json:"faceMatch"`
}

type veriffPerson struct {
	FirstName    *string `json:"firstName"`
	LastName     *string `json:"lastName"`
	DateOfBirth  *string `json:"dateOfBirth"`
	Nationality  *string `json:"nationality"`
	Gender       *string `json:"gender"`
	IDNumber     *string `json:"idNumber"`
	PlaceOfBirth *string `json:"placeOfBirth"`
}

type veriffDocument struct {
	Type       *string `json:"type"`
	Number     *string `json:"number"`
	Country    *string `json:"country"`
	ValidFrom  *string `json:"validFrom"`
	ValidUntil *string `json:"validUntil"`
	IssuedBy   *string `json:"issuedBy"`
}

type veriffScore struct {
	Score *float64 `json:"score"`
}

type veriffLabel struct {
	Label string `json:"label"`
}

func (n *VeriffNormalizer) Normalize(body []byte, headers map[string]string) (*domain.VerificationEvent, error) {
	var p veriffPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.ErrMalformedPayload.WithError(err)
	}

	var ev *domain.VerificationEvent
	switch {
	case p.Verification != nil:
		ev = n.fromDecision(p.Verification)
	case p.Action != "":
		ev = n.fromSessionEvent(&p)
	default:
		return nil, domain.ErrMalformedPayload.WithError(errors.New("neither action nor verification present"))
	}

	if ev == nil {
		return nil, domain.ErrMalformedPayload.WithError(errors.New("missing session id"))
	}
	ev.Vendor = VendorVeriff
	if ev.SubjectRef == "" {
		return ev, domain.ErrMissingSubject
	}
	return ev, nil
}

func (n *VeriffNormalizer) fromSessionEvent(p *veriffPayload) *domain.VerificationEvent {
	id := strings.TrimSpace(p.AttemptID)
	if id == "" {
		id = strings.TrimSpace(p.ID)
	}
	if id == "" {
		return nil
	}
	action := strings.ToLower(strings.TrimSpace(p.Action))

	ev := &domain.VerificationEvent{
		EventID:   id + ":" + action,
		EventType: veriffActionType(action),
	}
	if s := optString(p.VendorData); s != nil {
		ev.SubjectRef = *s
	}
	return ev
}

func (n *VeriffNormalizer) fromDecision(v *veriffVerification) *domain.VerificationEvent {
	id := strings.TrimSpace(v.ID)
	if id == "" {
		return nil
	}
	status := strings.ToLower(strings.TrimSpace(v.Status))

	ev := &domain.VerificationEvent{
		EventID:    id + ":decision:" + status,
		EventType:  veriffDecisionType(status),
		OccurredAt: v.DecisionTime,
		Person: compactPerson(domain.Person{
			FirstName:    v.Person.FirstName,
			LastName:     v.Person.LastName,
			DateOfBirth:  v.Person.DateOfBirth,
			Nationality:  v.Person.Nationality,
			Gender:       v.Person.Gender,
			IDNumber:     v.Person.IDNumber,
			PlaceOfBirth: v.Person.PlaceOfBirth,
		}),
		Document: compactDocument(domain.Document{
			Type:       v.Document.Type,
			Number:     v.Document.Number,
			Country:    v.Document.Country,
			ValidFrom:  v.Document.ValidFrom,
			ValidUntil: v.Document.ValidUntil,
			Issuer:     v.Document.IssuedBy,
		}),
		RiskSignals: domain.RiskSignals{
			Reason:     optString(v.Reason),
			ReasonCode: v.ReasonCode,
		},
	}
	if v.RiskScore != nil {
		ev.RiskSignals.DecisionScore = v.RiskScore.Score
	}
	if v.FaceMatch != nil {
		ev.RiskSignals.FaceMatchScore = v.FaceMatch.Score
	}
	for _, l := range v.RiskLabels {
		if label := strings.TrimSpace(l.Label); label != "" {
			ev.RiskSignals.QualityFlags = append(ev.RiskSignals.QualityFlags, label)
		}
	}
	if s := optString(v.VendorData); s != nil {
		ev.SubjectRef = *s
	}
	return ev
}

func veriffActionType(action string) domain.EventType {
	switch action {
	case "started":
		return domain.EventCreated
	case "submitted":
		return domain.EventSubmitted
	default:
		return domain.EventUnknown
	}
}

func veriffDecisionType(status string) domain.EventType {
	switch status {
	case "approved":
		return domain.EventApproved
	case "declined":
		return domain.EventDeclined
	case "expired", "abandoned":
		return domain.EventExpired
	default:
		// resubmission_requested, review: informative only
		return domain.EventUnknown
	}
}
