package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type EnrollmentsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, e model.Enrollment) error
	Get(ctx context.Context, id string) (*model.Enrollment, error)
	// ListDue returns active enrollments of active campaigns whose next step
	// is due and which no worker holds a live claim on. Claims older than
	// staleBefore count as abandoned (worker crashed mid-step) and the row is
	// eligible again.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.Enrollment, error)
	// Claim takes the per-enrollment execution lock for one step, keyed by
	// (enrollment id, step order). Exactly one of N concurrent claimants wins;
	// a claim older than staleBefore can be taken over.
	Claim(ctx context.Context, id string, step int, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error
	// Advance records the executed step and moves the cursor forward under
	// the claim; nextDueAt is nil when the sequence is exhausted.
	Advance(ctx context.Context, tx *sqlx.Tx, id string, fromStep int, executedAt time.Time, nextDueAt *time.Time) error
	// Skip moves the cursor without recording an execution (false branch).
	Skip(ctx context.Context, tx *sqlx.Tx, id string, fromStep int, nextDueAt *time.Time) error
	Defer(ctx context.Context, id string, nextDueAt time.Time) error
	// UpdateStatus transitions enrollment status conditionally on the current
	// status; terminal enrollments never move again.
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, from, to model.EnrollmentStatus) (bool, error)
	CountActiveByCampaign(ctx context.Context, tx *sqlx.Tx, campaignID string) (int, error)
	ExistsForLead(ctx context.Context, tx *sqlx.Tx, campaignID string, leadID int64) (bool, error)
}

type EnrollmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEnrollmentsRepository(db *sqlx.DB) *EnrollmentsRepositoryImpl {
	return &EnrollmentsRepositoryImpl{db: db}
}

var _ EnrollmentsRepository = (*EnrollmentsRepositoryImpl)(nil)

func (r *EnrollmentsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

const enrollmentColumns = `id, campaign_id, workspace_id, lead_id, current_step, status,
       next_due_at, claimed_at, last_executed_at, created_at, updated_at`

func (r *EnrollmentsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.Enrollment) error {
	const q = `
		INSERT INTO enrollments
		    (id, campaign_id, workspace_id, lead_id, current_step, status, next_due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.ID, e.CampaignID, e.WorkspaceID, e.LeadID, e.CurrentStep, e.Status.String(), e.NextDueAt,
		)
		return err
	})
}

func (r *EnrollmentsRepositoryImpl) Get(ctx context.Context, id string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.db.GetContext(ctx, &e, `
		SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentsRepositoryImpl) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.Enrollment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Enrollment
	err := r.db.SelectContext(ctx, &rows, `
		SELECT e.id, e.campaign_id, e.workspace_id, e.lead_id, e.current_step, e.status,
		       e.next_due_at, e.claimed_at, e.last_executed_at, e.created_at, e.updated_at
		  FROM enrollments e
		  JOIN campaigns c ON c.id = e.campaign_id
		 WHERE e.status = 'active'
		   AND c.status = 'active'
		   AND e.next_due_at IS NOT NULL
		   AND e.next_due_at <= ?
		   AND (e.claimed_at IS NULL OR e.claimed_at < ?)
		 ORDER BY e.next_due_at
		 LIMIT ?
	`, now, staleBefore, limit)
	return rows, err
}

func (r *EnrollmentsRepositoryImpl) Claim(ctx context.Context, id string, step int, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET claimed_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND current_step = ? AND status = 'active'
		   AND (claimed_at IS NULL OR claimed_at < ?)
	`, id, step, staleBefore)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *EnrollmentsRepositoryImpl) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET claimed_at = NULL, updated_at = NOW()
		 WHERE id = ?
	`, id)
	return err
}

func (r *EnrollmentsRepositoryImpl) Advance(ctx context.Context, tx *sqlx.Tx, id string, fromStep int, executedAt time.Time, nextDueAt *time.Time) error {
	const q = `
		UPDATE enrollments
		   SET current_step = current_step + 1,
		       last_executed_at = ?,
		       next_due_at = ?,
		       claimed_at = NULL,
		       updated_at = NOW()
		 WHERE id = ? AND current_step = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, executedAt, nextDueAt, id, fromStep)
		return err
	})
}

func (r *EnrollmentsRepositoryImpl) Skip(ctx context.Context, tx *sqlx.Tx, id string, fromStep int, nextDueAt *time.Time) error {
	const q = `
		UPDATE enrollments
		   SET current_step = current_step + 1,
		       next_due_at = ?,
		       claimed_at = NULL,
		       updated_at = NOW()
		 WHERE id = ? AND current_step = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, nextDueAt, id, fromStep)
		return err
	})
}

func (r *EnrollmentsRepositoryImpl) Defer(ctx context.Context, id string, nextDueAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		   SET next_due_at = ?, claimed_at = NULL, updated_at = NOW()
		 WHERE id = ?
	`, nextDueAt, id)
	return err
}

func (r *EnrollmentsRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id string, from, to model.EnrollmentStatus) (bool, error) {
	const q = `
		UPDATE enrollments
		   SET status = ?, next_due_at = NULL, claimed_at = NULL, updated_at = NOW()
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

func (r *EnrollmentsRepositoryImpl) CountActiveByCampaign(ctx context.Context, tx *sqlx.Tx, campaignID string) (int, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE campaign_id = ? AND status = 'active'`
	var n int
	if tx != nil {
		err := tx.GetContext(ctx, &n, q, campaignID)
		return n, err
	}
	err := r.db.GetContext(ctx, &n, q, campaignID)
	return n, err
}

func (r *EnrollmentsRepositoryImpl) ExistsForLead(ctx context.Context, tx *sqlx.Tx, campaignID string, leadID int64) (bool, error) {
	const q = `SELECT 1 FROM enrollments WHERE campaign_id = ? AND lead_id = ? LIMIT 1`
	var one int
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &one, q, campaignID, leadID)
	} else {
		err = r.db.GetContext(ctx, &one, q, campaignID, leadID)
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
