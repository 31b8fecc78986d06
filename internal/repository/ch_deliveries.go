package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

// CHDeliveriesRepository lists delivery audit rows from ClickHouse (the
// replicated read-side view; MySQL stays the write path).
type CHDeliveriesRepository interface {
	ListByWorkspace(ctx context.Context, workspaceID int64, eventType string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) ListByWorkspace(ctx context.Context, workspaceID int64, eventType string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, subscription_id, event_id, workspace_id, event_type, status,
		       attempts, last_status_code, response_excerpt, error_message, created_at, completed_at
		FROM campd.delivery_attempts_latest
		WHERE workspace_id = ?
	`
	args := []any{workspaceID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
