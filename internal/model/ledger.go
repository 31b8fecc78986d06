package model

import "time"

const LedgerPeriodLayout = "2006-01-02"

// PeriodKey is the UTC calendar day used as the ledger period.
func PeriodKey(t time.Time) string {
	return t.UTC().Format(LedgerPeriodLayout)
}

// LedgerEntry is one actor's consumption counter. The used<=cap invariant is
// enforced inside a single conditional UPDATE, never read-then-write.
type LedgerEntry struct {
	ActorID   int64     `db:"actor_id"`
	PeriodKey string    `db:"period_key"`
	Used      int64     `db:"used"`
	Cap       int64     `db:"cap"`
	UpdatedAt time.Time `db:"updated_at"`
}
