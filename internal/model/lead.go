package model

import "time"

// Lead is a recipient owned by a workspace. Subscribed leads are enrolled
// when a campaign first activates.
type Lead struct {
	ID          int64     `db:"id"`
	WorkspaceID int64     `db:"workspace_id"`
	Email       string    `db:"email"`
	Subscribed  bool      `db:"subscribed"`
	CreatedAt   time.Time `db:"created_at"`
}

// LeadEvent is a tracking fact (open/click/reply) written by the external
// send provider. The engine only reads this log; condition evaluation is a
// pure predicate over it.
type LeadEvent struct {
	ID           int64     `db:"id"`
	LeadID       int64     `db:"lead_id"`
	EnrollmentID string    `db:"enrollment_id"`
	StepOrder    int       `db:"step_order"` // originating step execution
	EventType    string    `db:"event_type"` // opened|clicked|replied|unsubscribed
	OccurredAt   time.Time `db:"occurred_at"`
}
