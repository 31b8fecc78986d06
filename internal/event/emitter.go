// Package event records domain events and queues them for delivery.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/util"
)

// DomainTopic is the Kafka topic outbox rows are relayed to; the webhook
// dispatcher worker consumes it.
const DomainTopic = "events.domain"

// Emitter writes a DomainEvent row and its outbox envelope in one
// transaction, so the event is published iff the surrounding mutation
// commits.
type Emitter struct {
	db     *sqlx.DB
	events repository.EventsRepository
	outbox repository.OutboxRepository
}

func NewEmitter(db *sqlx.DB, events repository.EventsRepository, outbox repository.OutboxRepository) *Emitter {
	return &Emitter{db: db, events: events, outbox: outbox}
}

// Emit records one domain event. payload must be JSON-marshalable; a nil tx
// opens an internal transaction. Returns the generated event ID.
func (e *Emitter) Emit(ctx context.Context, tx *sqlx.Tx, workspaceID int64, eventType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}

	eventID := util.NewID()
	env := model.EventEnvelope{
		EventID:     eventID,
		WorkspaceID: workspaceID,
		EventType:   eventType,
		Payload:     raw,
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal event envelope: %w", err)
	}

	write := func(tx *sqlx.Tx) error {
		if err := e.events.Insert(ctx, tx, model.DomainEvent{
			ID:          eventID,
			WorkspaceID: workspaceID,
			EventType:   eventType,
			Payload:     raw,
		}); err != nil {
			return fmt.Errorf("insert domain event: %w", err)
		}
		if err := e.outbox.Insert(ctx, tx, "domain_event", eventID, DomainTopic, envBytes); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	}

	if tx != nil {
		return eventID, write(tx)
	}

	t, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = t.Rollback() }()
	if err := write(t); err != nil {
		return "", err
	}
	return eventID, t.Commit()
}
