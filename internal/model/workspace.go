package model

import "time"

// Workspace is the tenant boundary. The API key authenticates operators and
// DailySendCap is the per-day credit cap enforced by the resource ledger.
type Workspace struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Status       string    `db:"status"` // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps"`
	DailySendCap int64     `db:"daily_send_cap"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
