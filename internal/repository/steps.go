package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type StepsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, s model.StepDefinition) error
	ListByCampaign(ctx context.Context, campaignID string) ([]model.StepDefinition, error)
	// Delete removes one step and re-sequences the remaining order indices so
	// they stay contiguous, in a single transaction.
	Delete(ctx context.Context, campaignID string, orderIndex int) error
	CountByCampaign(ctx context.Context, campaignID string) (int, error)
}

type StepsRepositoryImpl struct {
	db *sqlx.DB
}

func NewStepsRepository(db *sqlx.DB) *StepsRepositoryImpl {
	return &StepsRepositoryImpl{db: db}
}

var _ StepsRepository = (*StepsRepositoryImpl)(nil)

func (r *StepsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *StepsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s model.StepDefinition) error {
	const q = `
		INSERT INTO campaign_steps
		    (campaign_id, order_index, template_ref, delay_minutes,
		     condition_kind, condition_event, condition_deadline_minutes, condition_on_false,
		     created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			s.CampaignID, s.OrderIndex, s.TemplateRef, s.DelayMinutes,
			s.Kind.String(), s.EventType, s.DeadlineMinutes, string(s.OnFalse),
		)
		return err
	})
}

func (r *StepsRepositoryImpl) ListByCampaign(ctx context.Context, campaignID string) ([]model.StepDefinition, error) {
	var rows []model.StepDefinition
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, campaign_id, order_index, template_ref, delay_minutes,
		       condition_kind, condition_event, condition_deadline_minutes, condition_on_false,
		       created_at
		  FROM campaign_steps
		 WHERE campaign_id = ?
		 ORDER BY order_index
	`, campaignID)
	return rows, err
}

func (r *StepsRepositoryImpl) Delete(ctx context.Context, campaignID string, orderIndex int) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_steps WHERE campaign_id = ? AND order_index = ?
		`, campaignID, orderIndex); err != nil {
			return err
		}
		// Close the gap so indices stay contiguous.
		_, err := tx.ExecContext(ctx, `
			UPDATE campaign_steps
			   SET order_index = order_index - 1
			 WHERE campaign_id = ? AND order_index > ?
			 ORDER BY order_index
		`, campaignID, orderIndex)
		return err
	})
}

func (r *StepsRepositoryImpl) CountByCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM campaign_steps WHERE campaign_id = ?
	`, campaignID)
	return n, err
}
