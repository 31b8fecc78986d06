package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type SubscriptionsRepository interface {
	Insert(ctx context.Context, s model.WebhookSubscription) (int64, error)
	// ListByWorkspace returns every subscription (active and inactive) so the
	// dispatcher can record an audit row for inactive matches too.
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.WebhookSubscription, error)
	SetActive(ctx context.Context, id int64, workspaceID int64, active bool) (bool, error)
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

func (r *SubscriptionsRepositoryImpl) Insert(ctx context.Context, s model.WebhookSubscription) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions
		    (workspace_id, url, secret, event_types, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
	`, s.WorkspaceID, s.URL, s.Secret, s.EventTypes, s.Active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SubscriptionsRepositoryImpl) ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.WebhookSubscription, error) {
	var rows []model.WebhookSubscription
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, workspace_id, url, secret, event_types, active, created_at, updated_at
		  FROM webhook_subscriptions
		 WHERE workspace_id = ?
		 ORDER BY id
	`, workspaceID)
	return rows, err
}

func (r *SubscriptionsRepositoryImpl) SetActive(ctx context.Context, id int64, workspaceID int64, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		   SET active = ?, updated_at = NOW()
		 WHERE id = ? AND workspace_id = ?
	`, active, id, workspaceID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}
