package model

import (
	"testing"
	"time"
)

func TestPeriodKey_UTCDay(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)
	if got := PeriodKey(local); got != "2026-03-02" {
		t.Errorf("PeriodKey = %q, want UTC day 2026-03-02", got)
	}
	utc := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := PeriodKey(utc); got != "2026-03-01" {
		t.Errorf("PeriodKey = %q", got)
	}
}

func TestParseCampaignStatus(t *testing.T) {
	tests := []struct {
		in    string
		want  CampaignStatus
		valid bool
	}{
		{"active", CampaignActive, true},
		{" ACTIVE ", CampaignActive, true},
		{"pending_review", CampaignPendingReview, true},
		{"deleted", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCampaignStatus(tt.in)
		if ok != tt.valid {
			t.Errorf("ParseCampaignStatus(%q) valid = %v, want %v", tt.in, ok, tt.valid)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseCampaignStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseConditionKind(t *testing.T) {
	if k, ok := ParseConditionKind(""); !ok || k != ConditionNone {
		t.Errorf("empty input must parse as none, got %v %v", k, ok)
	}
	if k, ok := ParseConditionKind("Event_Occurred"); !ok || k != ConditionEventOccurred {
		t.Errorf("case-insensitive parse failed: %v %v", k, ok)
	}
	if _, ok := ParseConditionKind("sometimes"); ok {
		t.Error("unknown kind must not parse")
	}
}

func TestEventTypeList_RoundTrip(t *testing.T) {
	l := EventTypeList{"step.executed", "enrollment.completed"}
	v, err := l.Value()
	if err != nil {
		t.Fatal(err)
	}

	var back EventTypeList
	if err := back.Scan(v); err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 || !back.Contains("step.executed") || !back.Contains("enrollment.completed") {
		t.Errorf("round trip lost entries: %v", back)
	}
	if back.Contains("step.send_failed") {
		t.Error("Contains must be exact")
	}
}

func TestEventTypeList_ScanNilAndString(t *testing.T) {
	var l EventTypeList
	if err := l.Scan(nil); err != nil || l != nil {
		t.Errorf("nil scan: %v %v", l, err)
	}
	if err := l.Scan(`["a.b"]`); err != nil || !l.Contains("a.b") {
		t.Errorf("string scan: %v %v", l, err)
	}
	if err := l.Scan(42); err == nil {
		t.Error("unsupported type must error")
	}
}

func TestEnrollment_ConditionAnchor(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	executed := created.Add(2 * time.Hour)

	e := Enrollment{CreatedAt: created}
	if got := e.ConditionAnchor(); !got.Equal(created) {
		t.Errorf("anchor before any send = %v, want creation time", got)
	}
	e.LastExecutedAt = &executed
	if got := e.ConditionAnchor(); !got.Equal(executed) {
		t.Errorf("anchor after a send = %v, want last executed", got)
	}
}

func TestStepDelayAndDeadline(t *testing.T) {
	s := StepDefinition{DelayMinutes: 90}
	if s.Delay() != 90*time.Minute {
		t.Errorf("Delay = %v", s.Delay())
	}
	anchor := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Condition{DeadlineMinutes: 45}
	if got := c.Deadline(anchor); !got.Equal(anchor.Add(45 * time.Minute)) {
		t.Errorf("Deadline = %v", got)
	}
}

func TestEnrollmentStatusTerminal(t *testing.T) {
	if EnrollmentActive.Terminal() {
		t.Error("active is not terminal")
	}
	for _, s := range []EnrollmentStatus{EnrollmentCompleted, EnrollmentCancelled, EnrollmentFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
