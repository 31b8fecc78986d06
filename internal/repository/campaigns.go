package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type CampaignsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, c model.Campaign) error
	Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Campaign, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Campaign, error)
	// UpdateStatus applies the transition only if the row still holds `from`;
	// returns true when the conditional update took effect.
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, from, to model.CampaignStatus) (bool, error)
	MarkActivated(ctx context.Context, tx *sqlx.Tx, id string) error
	// ListScheduledDue returns scheduled campaigns whose start time has passed.
	ListScheduledDue(ctx context.Context, limit int) ([]model.Campaign, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
}

type CampaignsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCampaignsRepository(db *sqlx.DB) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

func (r *CampaignsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *CampaignsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, c model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (id, workspace_id, name, status, scheduled_at, created_at, updated_at)
		VALUES
		    (?,  ?,            ?,    ?,      ?,            NOW(),      NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, c.ID, c.WorkspaceID, c.Name, c.Status.String(), c.ScheduledAt)
		return err
	})
}

const campaignColumns = `id, workspace_id, name, status, scheduled_at, activated_at, created_at, updated_at`

func (r *CampaignsRepositoryImpl) get(ctx context.Context, tx *sqlx.Tx, id string, forUpdate bool) (*model.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ? LIMIT 1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var c model.Campaign
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &c, q, id)
	} else {
		err = r.db.GetContext(ctx, &c, q, id)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, id string) (*model.Campaign, error) {
	return r.get(ctx, tx, id, false)
}

func (r *CampaignsRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Campaign, error) {
	return r.get(ctx, tx, id, true)
}

func (r *CampaignsRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, from, to model.CampaignStatus) (bool, error) {
	const q = `
		UPDATE campaigns
		   SET status = ?, updated_at = NOW()
		 WHERE id = ? AND status = ?
	`
	var affected int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, to.String(), id, from.String())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected == 1, err
}

func (r *CampaignsRepositoryImpl) MarkActivated(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `
		UPDATE campaigns
		   SET activated_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND activated_at IS NULL
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

func (r *CampaignsRepositoryImpl) ListScheduledDue(ctx context.Context, limit int) ([]model.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.Campaign
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+campaignColumns+`
		  FROM campaigns
		 WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= NOW()
		 ORDER BY scheduled_at
		 LIMIT ?
	`, model.CampaignScheduled.String(), limit)
	return rows, err
}

// Delete removes a campaign and its steps. Callers enforce the draft|rejected
// guard before reaching here.
func (r *CampaignsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_steps WHERE campaign_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
		return err
	})
}
