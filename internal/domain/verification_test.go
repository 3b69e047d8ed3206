package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventApproved, ParseEventType("approved"))
	assert.Equal(t, EventCreated, ParseEventType("created"))
	assert.Equal(t, EventUnknown, ParseEventType("resubmission_requested"))
	assert.Equal(t, EventUnknown, ParseEventType(""))
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusNotStarted, false},
		{StatusCreated, false},
		{StatusSubmitted, false},
		{StatusApproved, true},
		{StatusDeclined, true},
		{StatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestVerificationRecordClone(t *testing.T) {
	name := "Ana"
	score := 0.5
	reason := "check"
	now := time.Now()

	orig := &VerificationRecord{
		SubjectRef:     "S1",
		Status:         StatusSubmitted,
		Person:         Person{FirstName: &name},
		RiskSignals:    RiskSignals{FaceMatchScore: &score, QualityFlags: []string{"blur"}},
		LastAdvancedAt: &now,
		ReviewReason:   &reason,

		AppliedEventIDs: []string{"e1"},
	}

	c := orig.Clone()
	require.NotNil(t, c)

	*c.Person.FirstName = "Changed"
	*c.RiskSignals.FaceMatchScore = 0.9
	c.RiskSignals.QualityFlags[0] = "glare"
	*c.ReviewReason = "other"
	c.AppliedEventIDs[0] = "e9"

	assert.Equal(t, "Ana", *orig.Person.FirstName)
	assert.Equal(t, 0.5, *orig.RiskSignals.FaceMatchScore)
	assert.Equal(t, "blur", orig.RiskSignals.QualityFlags[0])
	assert.Equal(t, "check", *orig.ReviewReason)
	assert.Equal(t, []string{"e1"}, orig.AppliedEventIDs)

	var nilRecord *VerificationRecord
	assert.Nil(t, nilRecord.Clone())
}

func TestVerificationRecordHasApplied(t *testing.T) {
	rec := &VerificationRecord{LastEventID: "e3", AppliedEventIDs: []string{"e1", "e2"}}

	assert.True(t, rec.HasApplied("e1"))
	assert.True(t, rec.HasApplied("e3"), "last event id counts even when not in the set")
	assert.False(t, rec.HasApplied("e4"))
	assert.False(t, (&VerificationRecord{}).HasApplied(""))
}
