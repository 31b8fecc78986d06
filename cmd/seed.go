package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/config"
	"github.com/outreachd/campaign-engine/internal/db"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo workspaces and leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo workspaces...")

		if err := seedWorkspaces(sqlDB); err != nil {
			return err
		}
		if err := seedLeads(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedWorkspaces inserts deterministic demo workspaces (idempotent).
func seedWorkspaces(dbx *sqlx.DB) error {
	workspaces := []model.Workspace{
		{
			Name:         "Acme Outbound",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
			DailySendCap: 500,
		},
		{
			Name:         "Foobar Growth",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
			DailySendCap: 2000,
		},
		{
			Name:         "Beta Testers",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
			DailySendCap: 50,
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
			DailySendCap: 100,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO workspaces
    (name, api_key, status, rate_limit_rps, daily_send_cap, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    daily_send_cap = VALUES(daily_send_cap),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, w := range workspaces {
		if _, err := tx.Exec(q, w.Name, w.APIKey, w.Status, w.RateLimitRPS, w.DailySendCap, now, now); err != nil {
			return fmt.Errorf("insert workspace %q: %w", w.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workspaces: %w", err)
	}
	return nil
}

// seedLeads gives each active workspace a handful of subscribed demo leads.
func seedLeads(dbx *sqlx.DB) error {
	const q = `
INSERT INTO leads (workspace_id, email, subscribed, created_at)
SELECT w.id, CONCAT('lead', n.i, '+ws', w.id, '@example.com'), 1, NOW()
FROM workspaces w
JOIN (SELECT 1 AS i UNION SELECT 2 UNION SELECT 3 UNION SELECT 4 UNION SELECT 5) n
LEFT JOIN leads l
  ON l.workspace_id = w.id
 AND l.email = CONCAT('lead', n.i, '+ws', w.id, '@example.com')
WHERE w.status = 'active' AND l.id IS NULL
`
	if _, err := dbx.Exec(q); err != nil {
		return fmt.Errorf("seed leads: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
