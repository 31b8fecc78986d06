package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type EventsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, e model.DomainEvent) error
	Get(ctx context.Context, id string) (*model.DomainEvent, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.DomainEvent) error {
	const q = `
		INSERT INTO domain_events (id, workspace_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, e.ID, e.WorkspaceID, e.EventType, []byte(payload))
		return err
	})
}

func (r *EventsRepositoryImpl) Get(ctx context.Context, id string) (*model.DomainEvent, error) {
	var e model.DomainEvent
	err := r.db.GetContext(ctx, &e, `
		SELECT id, workspace_id, event_type, payload, created_at
		  FROM domain_events
		 WHERE id = ? LIMIT 1
	`, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
