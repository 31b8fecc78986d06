package model

import "time"

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
	EnrollmentFailed    EnrollmentStatus = "failed"
)

func (s EnrollmentStatus) String() string { return string(s) }

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentCompleted, EnrollmentCancelled, EnrollmentFailed:
		return true
	}
	return false
}

// Terminal enrollments never advance again.
func (s EnrollmentStatus) Terminal() bool { return s != EnrollmentActive }

// Enrollment tracks one lead's progress through one campaign's sequence.
// CurrentStep is the zero-based cursor of the next step to execute; it is
// monotonically non-decreasing and advanced only through a conditional
// update, so concurrent workers cannot execute the same step twice.
type Enrollment struct {
	ID             string           `db:"id"`
	CampaignID     string           `db:"campaign_id"`
	WorkspaceID    int64            `db:"workspace_id"`
	LeadID         int64            `db:"lead_id"`
	CurrentStep    int              `db:"current_step"`
	Status         EnrollmentStatus `db:"status"`
	NextDueAt      *time.Time       `db:"next_due_at"`
	ClaimedAt      *time.Time       `db:"claimed_at"` // optimistic per-enrollment execution lock
	LastExecutedAt *time.Time       `db:"last_executed_at"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

// ConditionAnchor is the reference time deadlines are measured from: the
// previous step's executed time, or enrollment creation before any send.
func (e Enrollment) ConditionAnchor() time.Time {
	if e.LastExecutedAt != nil {
		return *e.LastExecutedAt
	}
	return e.CreatedAt
}
