package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type LeadsRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Lead, error)
	ListSubscribed(ctx context.Context, tx *sqlx.Tx, workspaceID int64) ([]model.Lead, error)
	// ListEventsSince reads the tracking log for condition evaluation:
	// events of the given type for one enrollment, at or after since.
	ListEventsSince(ctx context.Context, enrollmentID, eventType string, since time.Time) ([]model.LeadEvent, error)
}

type LeadsRepositoryImpl struct {
	db *sqlx.DB
}

func NewLeadsRepository(db *sqlx.DB) *LeadsRepositoryImpl {
	return &LeadsRepositoryImpl{db: db}
}

var _ LeadsRepository = (*LeadsRepositoryImpl)(nil)

func (r *LeadsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Lead, error) {
	var l model.Lead
	err := r.db.GetContext(ctx, &l, `
		SELECT id, workspace_id, email, subscribed, created_at
		  FROM leads
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LeadsRepositoryImpl) ListSubscribed(ctx context.Context, tx *sqlx.Tx, workspaceID int64) ([]model.Lead, error) {
	const q = `
		SELECT id, workspace_id, email, subscribed, created_at
		  FROM leads
		 WHERE workspace_id = ? AND subscribed = 1
		 ORDER BY id
	`
	var rows []model.Lead
	if tx != nil {
		err := tx.SelectContext(ctx, &rows, q, workspaceID)
		return rows, err
	}
	err := r.db.SelectContext(ctx, &rows, q, workspaceID)
	return rows, err
}

func (r *LeadsRepositoryImpl) ListEventsSince(ctx context.Context, enrollmentID, eventType string, since time.Time) ([]model.LeadEvent, error) {
	var rows []model.LeadEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, lead_id, enrollment_id, step_order, event_type, occurred_at
		  FROM lead_events
		 WHERE enrollment_id = ? AND event_type = ? AND occurred_at >= ?
		 ORDER BY occurred_at
	`, enrollmentID, eventType, since)
	return rows, err
}
