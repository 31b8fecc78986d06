package model

import (
	"encoding/json"
	"time"
)

// Domain event types produced by the engine.
const (
	EventCampaignStatusChanged = "campaign.status_changed"
	EventEnrollmentCompleted   = "enrollment.completed"
	EventEnrollmentCancelled   = "enrollment.cancelled"
	EventEnrollmentDeferred    = "enrollment.deferred_insufficient_credits"
	EventEnrollmentFailed      = "enrollment.failed"
	EventStepExecuted          = "step.executed"
	EventStepSendFailed        = "step.send_failed"
)

// DomainEvent is an internal fact persisted in domain_events and published
// to subscribers through the outbox.
type DomainEvent struct {
	ID          string          `db:"id"`
	WorkspaceID int64           `db:"workspace_id"`
	EventType   string          `db:"event_type"`
	Payload     json.RawMessage `db:"payload"`
	CreatedAt   time.Time       `db:"created_at"`
}

// EventEnvelope is the payload published to Kafka (via Debezium outbox SMT)
// and consumed by the webhook dispatcher worker.
type EventEnvelope struct {
	EventID     string          `json:"event_id"`
	WorkspaceID int64           `json:"workspace_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
}
