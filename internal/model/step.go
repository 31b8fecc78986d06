package model

import (
	"strings"
	"time"
)

// ConditionKind is the closed branch-predicate vocabulary. This is not a
// workflow language: a step either has no condition, requires an event to
// have occurred, or requires its absence by a deadline.
type ConditionKind string

const (
	ConditionNone          ConditionKind = "none"
	ConditionEventOccurred ConditionKind = "event_occurred"
	ConditionEventMissing  ConditionKind = "event_missing"
)

func (k ConditionKind) String() string { return string(k) }

func (k ConditionKind) Valid() bool {
	return k == ConditionNone || k == ConditionEventOccurred || k == ConditionEventMissing
}

// BranchAction is what happens when a step's condition evaluates false.
type BranchAction string

const (
	BranchSkip BranchAction = "skip" // advance past the step without sending
	BranchStop BranchAction = "stop" // end the enrollment
)

func (a BranchAction) Valid() bool { return a == BranchSkip || a == BranchStop }

// ParseConditionKind normalizes input; empty => none.
func ParseConditionKind(s string) (ConditionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ConditionNone, true
	case "event_occurred":
		return ConditionEventOccurred, true
	case "event_missing":
		return ConditionEventMissing, true
	default:
		return ConditionNone, false
	}
}

// Condition is the tagged branch predicate attached to a step. EventType and
// DeadlineMinutes are meaningful only when Kind != none. The deadline is
// measured from the previous step's executed time (enrollment creation for
// the first step).
type Condition struct {
	Kind            ConditionKind `db:"condition_kind"             json:"kind"`
	EventType       string        `db:"condition_event"            json:"event_type,omitempty"`
	DeadlineMinutes int           `db:"condition_deadline_minutes" json:"deadline_minutes,omitempty"`
	OnFalse         BranchAction  `db:"condition_on_false"         json:"on_false,omitempty"`
}

// Deadline resolves the condition's absolute cutoff relative to the anchor.
func (c Condition) Deadline(anchor time.Time) time.Time {
	return anchor.Add(time.Duration(c.DeadlineMinutes) * time.Minute)
}

// StepDefinition is one ordered, delay-gated step of a campaign sequence.
// Order indices are contiguous and unique per campaign; deleting a step
// re-sequences the remainder.
type StepDefinition struct {
	ID           int64     `db:"id"`
	CampaignID   string    `db:"campaign_id"`
	OrderIndex   int       `db:"order_index"`
	TemplateRef  string    `db:"template_ref"`
	DelayMinutes int       `db:"delay_minutes"` // from previous step's execution (or enrollment start)
	Condition              // flattened into condition_* columns
	CreatedAt    time.Time `db:"created_at"`
}

// Delay returns the step's configured delay as a duration.
func (s StepDefinition) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}
