package model

import (
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft         CampaignStatus = "draft"
	CampaignPendingReview CampaignStatus = "pending_review"
	CampaignApproved      CampaignStatus = "approved"
	CampaignScheduled     CampaignStatus = "scheduled"
	CampaignActive        CampaignStatus = "active"
	CampaignPaused        CampaignStatus = "paused"
	CampaignCompleted     CampaignStatus = "completed"
	CampaignRejected      CampaignStatus = "rejected"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignPendingReview, CampaignApproved, CampaignScheduled,
		CampaignActive, CampaignPaused, CampaignCompleted, CampaignRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves this status.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignRejected
}

// ParseCampaignStatus normalizes input. Returns (value, true) if valid.
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Campaign is the DB entity persisted in the campaigns table.
type Campaign struct {
	ID          string         `db:"id"`
	WorkspaceID int64          `db:"workspace_id"`
	Name        string         `db:"name"`
	Status      CampaignStatus `db:"status"`
	ScheduledAt *time.Time     `db:"scheduled_at"` // nullable start gate for scheduled -> active
	ActivatedAt *time.Time     `db:"activated_at"` // set on first activation only
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}
