// Package reconcile holds the verification state machine. It performs no I/O;
// callers load the current record, call Reconcile and persist the result.
package reconcile

import (
	"fmt"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// Decision is the result of applying one event to a subject's record.
type Decision struct {
	// Record is the record to persist. It is never the caller's pointer.
	Record *domain.VerificationRecord

	Previous          domain.Status
	Outcome           domain.Outcome
	TransitionApplied bool

	// Changed reports whether Record differs from the input and must be upserted.
	Changed bool
}

// maxAppliedEventIDs bounds the per-record set used to recognise redelivered events.
const maxAppliedEventIDs = 64

// rank orders the non-terminal states; terminal states all share the top rank.
var rank = map[domain.Status]int{
	domain.StatusNotStarted: 0,
	domain.StatusCreated:    1,
	domain.StatusSubmitted:  2,
	domain.StatusApproved:   3,
	domain.StatusDeclined:   3,
	domain.StatusExpired:    3,
}

var targetStatus = map[domain.EventType]domain.Status{
	domain.EventCreated:   domain.StatusCreated,
	domain.EventSubmitted: domain.StatusSubmitted,
	domain.EventApproved:  domain.StatusApproved,
	domain.EventDeclined:  domain.StatusDeclined,
	domain.EventExpired:   domain.StatusExpired,
}

// Reconcile applies ev to current (nil when the subject has no record yet).
// Status only moves forward; a terminal record never changes status again.
func Reconcile(current *domain.VerificationRecord, ev *domain.VerificationEvent, now time.Time) Decision {
	created := current == nil
	rec := current.Clone()
	if created {
		rec = &domain.VerificationRecord{
			SubjectRef: ev.SubjectRef,
			Vendor:     ev.Vendor,
			Status:     domain.StatusNotStarted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	d := Decision{Record: rec, Previous: rec.Status}

	if !created && rec.HasApplied(ev.EventID) {
		d.Outcome = domain.OutcomeDuplicate
		return d
	}

	if rec.Status.IsTerminal() {
		return terminal(d, ev, now)
	}

	fieldsChanged := mergeFields(rec, ev)

	next, advances := transition(rec.Status, ev.EventType)
	if advances {
		rec.Status = next
		rec.LastEventID = ev.EventID
		at := now
		rec.LastAdvancedAt = &at
		d.TransitionApplied = true
		d.Outcome = domain.OutcomeApplied
	} else if fieldsChanged {
		d.Outcome = domain.OutcomeMerged
	} else {
		d.Outcome = domain.OutcomeNoop
	}

	rec.IsVerified = rec.Status == domain.StatusApproved
	if created || advances || fieldsChanged {
		rec.UpdatedAt = now
	}
	// Even a noop is remembered: replaying it after newer events would merge older fields.
	markApplied(rec, ev.EventID)
	d.Changed = true
	return d
}

func terminal(d Decision, ev *domain.VerificationEvent, now time.Time) Decision {
	rec := d.Record
	incoming, isTerminal := targetStatus[ev.EventType]
	if !isTerminal || !incoming.IsTerminal() || incoming == rec.Status {
		d.Outcome = domain.OutcomeStale
		return d
	}

	// A second, different verdict for the same subject needs a human.
	d.Outcome = domain.OutcomeAnomaly
	if rec.NeedsReview {
		return d
	}
	reason := fmt.Sprintf("conflicting terminal event %s (%s) after %s", ev.EventID, ev.EventType, rec.Status)
	rec.NeedsReview = true
	rec.ReviewReason = &reason
	rec.UpdatedAt = now
	markApplied(rec, ev.EventID)
	d.Changed = true
	return d
}

func markApplied(rec *domain.VerificationRecord, eventID string) {
	rec.AppliedEventIDs = append(rec.AppliedEventIDs, eventID)
	if n := len(rec.AppliedEventIDs); n > maxAppliedEventIDs {
		rec.AppliedEventIDs = append([]string(nil), rec.AppliedEventIDs[n-maxAppliedEventIDs:]...)
	}
}

// transition returns the status ev moves the record to, and whether that is a forward move.
func transition(current domain.Status, et domain.EventType) (domain.Status, bool) {
	next, ok := targetStatus[et]
	if !ok {
		return current, false
	}
	if rank[next] <= rank[current] {
		return current, false
	}
	return next, true
}
