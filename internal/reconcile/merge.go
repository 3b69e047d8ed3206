package reconcile

import (
	"slices"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// mergeFields copies every non-null incoming field onto rec. Absent incoming fields
// leave the existing value in place. It reports whether anything changed.
func mergeFields(rec *domain.VerificationRecord, ev *domain.VerificationEvent) bool {
	changed := false
	str := func(dst **string, src *string) {
		if src == nil || (*dst != nil && **dst == *src) {
			return
		}
		v := *src
		*dst = &v
		changed = true
	}
	num := func(dst **float64, src *float64) {
		if src == nil || (*dst != nil && **dst == *src) {
			return
		}
		v := *src
		*dst = &v
		changed = true
	}

	p, ip := &rec.Person, ev.Person
	str(&p.FirstName, ip.FirstName)
	str(&p.LastName, ip.LastName)
	str(&p.DateOfBirth, ip.DateOfBirth)
	str(&p.Nationality, ip.Nationality)
	str(&p.Gender, ip.Gender)
	str(&p.IDNumber, ip.IDNumber)
	str(&p.PlaceOfBirth, ip.PlaceOfBirth)

	doc, id := &rec.Document, ev.Document
	str(&doc.Type, id.Type)
	str(&doc.Number, id.Number)
	str(&doc.Country, id.Country)
	str(&doc.ValidFrom, id.ValidFrom)
	str(&doc.ValidUntil, id.ValidUntil)
	str(&doc.Issuer, id.Issuer)

	rs, ir := &rec.RiskSignals, ev.RiskSignals
	num(&rs.FaceMatchScore, ir.FaceMatchScore)
	num(&rs.DecisionScore, ir.DecisionScore)
	str(&rs.Reason, ir.Reason)
	if ir.ReasonCode != nil && (rs.ReasonCode == nil || *rs.ReasonCode != *ir.ReasonCode) {
		v := *ir.ReasonCode
		rs.ReasonCode = &v
		changed = true
	}
	if len(ir.QualityFlags) > 0 && !slices.Equal(rs.QualityFlags, ir.QualityFlags) {
		rs.QualityFlags = slices.Clone(ir.QualityFlags)
		changed = true
	}

	return changed
}
