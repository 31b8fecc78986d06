package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

// ConsumeResult is the outcome of one atomic ledger consumption.
type ConsumeResult struct {
	Granted   bool
	Remaining int64
}

// LedgerRepository is the single source of truth for "may this unit of work
// proceed". The check and the increment are one conditional UPDATE; two
// concurrent callers can never both slip past the cap on a stale read.
type LedgerRepository interface {
	TryConsume(ctx context.Context, actorID int64, periodKey string, amount, cap int64) (ConsumeResult, error)
	// Remaining reports the balance left in the period; ok is false when the
	// actor has no ledger row yet (nothing consumed, cap unknown here).
	Remaining(ctx context.Context, actorID int64, periodKey string) (remaining int64, ok bool, err error)
}

type LedgerRepositoryImpl struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db}
}

var _ LedgerRepository = (*LedgerRepositoryImpl)(nil)

// TryConsume atomically enforces used+amount <= cap for the given period.
// Period rollover is folded into the same statement: when the stored period
// key differs from periodKey, used is treated as 0 before the check and the
// row is moved to the new period. Rows affected == 1 means granted.
func (r *LedgerRepositoryImpl) TryConsume(ctx context.Context, actorID int64, periodKey string, amount, cap int64) (ConsumeResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return ConsumeResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Ensure the row exists; cap refreshes on every touch so plan changes
	// take effect next period.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (actor_id, period_key, used, cap, updated_at)
		VALUES (?, ?, 0, ?, NOW())
		ON DUPLICATE KEY UPDATE cap = VALUES(cap)
	`, actorID, periodKey, cap); err != nil {
		return ConsumeResult{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		   SET used = IF(period_key = ?, used, 0) + ?,
		       period_key = ?,
		       updated_at = NOW()
		 WHERE actor_id = ?
		   AND IF(period_key = ?, used, 0) + ? <= cap
	`, periodKey, amount, periodKey, actorID, periodKey, amount)
	if err != nil {
		return ConsumeResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ConsumeResult{}, err
	}

	var e model.LedgerEntry
	if err := tx.QueryRowxContext(ctx, `
		SELECT actor_id, period_key, used, cap, updated_at
		  FROM ledger_entries
		 WHERE actor_id = ?
	`, actorID).StructScan(&e); err != nil {
		return ConsumeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ConsumeResult{}, err
	}

	remaining := e.Cap - e.Used
	if e.PeriodKey != periodKey {
		// Denied request raced a stale period row; nothing was consumed yet
		// for the requested period.
		remaining = e.Cap
	}
	if remaining < 0 {
		remaining = 0
	}
	return ConsumeResult{Granted: affected == 1, Remaining: remaining}, nil
}

// Remaining is read-only and may race concurrent consumption. Display only;
// it never gates a consumption decision.
func (r *LedgerRepositoryImpl) Remaining(ctx context.Context, actorID int64, periodKey string) (int64, bool, error) {
	var e model.LedgerEntry
	err := r.db.GetContext(ctx, &e, `
		SELECT actor_id, period_key, used, cap, updated_at
		  FROM ledger_entries
		 WHERE actor_id = ? LIMIT 1
	`, actorID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if e.PeriodKey != periodKey {
		// Stale row from a previous period: the new period is untouched.
		return e.Cap, true, nil
	}
	rem := e.Cap - e.Used
	if rem < 0 {
		rem = 0
	}
	return rem, true, nil
}
