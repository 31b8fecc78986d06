package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type DeliveriesRepository interface {
	InsertPending(ctx context.Context, d model.DeliveryAttempt) error
	// MarkResult finalizes a pending attempt. The WHERE status='pending'
	// guard keeps terminal rows immutable.
	MarkResult(ctx context.Context, id string, status model.DeliveryStatus, attempts int, lastStatusCode *int, responseExcerpt, errorMessage string, completedAt time.Time) error
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

func (r *DeliveriesRepositoryImpl) InsertPending(ctx context.Context, d model.DeliveryAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts
		    (id, subscription_id, event_id, workspace_id, event_type, status, attempts, response_excerpt, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, '', '', NOW())
	`, d.ID, d.SubscriptionID, d.EventID, d.WorkspaceID, d.EventType)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkResult(ctx context.Context, id string, status model.DeliveryStatus, attempts int, lastStatusCode *int, responseExcerpt, errorMessage string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE delivery_attempts
		   SET status = ?, attempts = ?, last_status_code = ?, response_excerpt = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = 'pending'
	`, status.String(), attempts, lastStatusCode, responseExcerpt, errorMessage, completedAt, id)
	return err
}
