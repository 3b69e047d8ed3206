package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// Normalizer turns one vendor's callback into the canonical VerificationEvent shape.
// It is the only vendor-coupled code path; everything downstream is vendor agnostic.
type Normalizer interface {
	Namespace() string
	SignatureHeader() string
	Normalize(body []byte, headers map[string]string) (*domain.VerificationEvent, error)
}

// Registry resolves vendor namespaces to normalizers
type Registry struct {
	normalizers map[string]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[string]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.normalizers[strings.ToLower(n.Namespace())] = n
	}
	return r
}

// DefaultRegistry returns every built-in vendor normalizer.
func DefaultRegistry() *Registry {
	return NewRegistry(NewVeriffNormalizer(), NewGenericNormalizer())
}

func (r *Registry) Get(vendor string) (Normalizer, bool) {
	n, ok := r.normalizers[strings.ToLower(strings.TrimSpace(vendor))]
	return n, ok
}

func (r *Registry) Namespaces() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FallbackEventID derives a content-addressed id for payloads that carry none,
// so redelivery of the same unparseable body still deduplicates.
func FallbackEventID(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HeaderValue looks a header up case-insensitively.
func HeaderValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func optString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func compactPerson(p domain.Person) domain.Person {
	return domain.Person{
		FirstName:    optString(p.FirstName),
		LastName:     optString(p.LastName),
		DateOfBirth:  optString(p.DateOfBirth),
		Nationality:  optString(p.Nationality),
		Gender:       optString(p.Gender),
		IDNumber:     optString(p.IDNumber),
		PlaceOfBirth: optString(p.PlaceOfBirth),
	}
}

func compactDocument(d domain.Document) domain.Document {
	return domain.Document{
		Type:       optString(d.Type),
		Number:     optString(d.Number),
		Country:    optString(d.Country),
		ValidFrom:  optString(d.ValidFrom),
		ValidUntil: optString(d.ValidUntil),
		Issuer:     optString(d.Issuer),
	}
}
