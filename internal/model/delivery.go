package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliverySuccess || s == DeliveryFailed
}

// DeliveryAttempt is the append-only audit row for one try to deliver one
// event to one subscriber. Once terminal it is never rewritten; a manual
// retry inserts a fresh row.
type DeliveryAttempt struct {
	ID              string         `db:"id"`
	SubscriptionID  int64          `db:"subscription_id"`
	EventID         string         `db:"event_id"`
	WorkspaceID     int64          `db:"workspace_id"`
	EventType       string         `db:"event_type"`
	Status          DeliveryStatus `db:"status"`
	Attempts        int            `db:"attempts"`
	LastStatusCode  *int           `db:"last_status_code"`
	ResponseExcerpt string         `db:"response_excerpt"`
	ErrorMessage    string         `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
}
