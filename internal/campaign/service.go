package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/logger"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/util"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("campaign not found")
	// ErrScheduledInFuture rejects a manual activation before the scheduled
	// start; the scheduler re-attempts it once the time arrives.
	ErrScheduledInFuture = errors.New("scheduled start time has not passed")
	ErrNoSteps           = errors.New("campaign has no sequence steps")
	ErrNotDeletable      = errors.New("campaign can only be deleted in draft or rejected")
	ErrNotEnrollable     = errors.New("campaign is not accepting enrollments")
	// ErrConflict means a concurrent worker changed the status between read
	// and conditional update; callers may retry.
	ErrConflict = errors.New("campaign status changed concurrently")
)

// Service performs validated lifecycle transitions and their side effects.
type Service struct {
	db          *sqlx.DB
	campaigns   repository.CampaignsRepository
	steps       repository.StepsRepository
	enrollments repository.EnrollmentsRepository
	leads       repository.LeadsRepository
	emitter     *event.Emitter
	now         func() time.Time
}

func NewService(
	db *sqlx.DB,
	campaigns repository.CampaignsRepository,
	steps repository.StepsRepository,
	enrollments repository.EnrollmentsRepository,
	leads repository.LeadsRepository,
	emitter *event.Emitter,
) *Service {
	return &Service{
		db:          db,
		campaigns:   campaigns,
		steps:       steps,
		enrollments: enrollments,
		leads:       leads,
		emitter:     emitter,
		now:         time.Now,
	}
}

type statusChangedPayload struct {
	CampaignID string `json:"campaign_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
}

// Transition validates and applies campaign -> target. All side effects
// (status row, enrollments on first activation, status_changed event) commit
// in one transaction; on any validation error nothing is mutated.
func (s *Service) Transition(ctx context.Context, workspaceID int64, campaignID string, target model.CampaignStatus) (*model.Campaign, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.campaigns.GetForUpdate(ctx, tx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}

	if err := validate(c.Status, target); err != nil {
		return nil, err
	}

	if target == model.CampaignActive && c.ScheduledAt != nil && c.ScheduledAt.After(s.now()) {
		return nil, ErrScheduledInFuture
	}

	firstActivation := target == model.CampaignActive && c.ActivatedAt == nil
	if firstActivation {
		if err := s.activate(ctx, tx, c); err != nil {
			return nil, err
		}
	}

	ok, err := s.campaigns.UpdateStatus(ctx, tx, c.ID, c.Status, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	if _, err := s.emitter.Emit(ctx, tx, c.WorkspaceID, model.EventCampaignStatusChanged, statusChangedPayload{
		CampaignID: c.ID,
		OldStatus:  c.Status.String(),
		NewStatus:  target.String(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(c.Status.String(), target.String()).Inc()
	old := c.Status
	c.Status = target
	logger.Log.Info("campaign transitioned",
		zap.String("campaign_id", c.ID),
		zap.String("from", old.String()),
		zap.String("to", target.String()))
	return c, nil
}

// activate creates an enrollment per subscribed lead and marks the campaign
// activated. The first step's due time is enrollment time + its delay.
func (s *Service) activate(ctx context.Context, tx *sqlx.Tx, c *model.Campaign) error {
	steps, err := s.steps.ListByCampaign(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return ErrNoSteps
	}

	leads, err := s.leads.ListSubscribed(ctx, tx, c.WorkspaceID)
	if err != nil {
		return err
	}

	now := s.now()
	due := now.Add(steps[0].Delay())
	for _, lead := range leads {
		exists, err := s.enrollments.ExistsForLead(ctx, tx, c.ID, lead.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		e := model.Enrollment{
			ID:          util.NewID(),
			CampaignID:  c.ID,
			WorkspaceID: c.WorkspaceID,
			LeadID:      lead.ID,
			CurrentStep: 0,
			Status:      model.EnrollmentActive,
			NextDueAt:   &due,
		}
		if err := s.enrollments.Insert(ctx, tx, e); err != nil {
			return fmt.Errorf("enroll lead %d: %w", lead.ID, err)
		}
	}

	return s.campaigns.MarkActivated(ctx, tx, c.ID)
}

// Enroll adds one lead to a campaign by hand. Only active and scheduled
// campaigns accept enrollments; a draft has no approved sequence yet and a
// terminal campaign never executes again.
func (s *Service) Enroll(ctx context.Context, workspaceID int64, campaignID string, leadID int64) (*model.Enrollment, error) {
	c, err := s.campaigns.Get(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	if c.Status != model.CampaignActive && c.Status != model.CampaignScheduled {
		return nil, ErrNotEnrollable
	}

	steps, err := s.steps.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	exists, err := s.enrollments.ExistsForLead(ctx, nil, campaignID, leadID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.New("lead already enrolled")
	}

	due := s.now().Add(steps[0].Delay())
	e := model.Enrollment{
		ID:          util.NewID(),
		CampaignID:  campaignID,
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		CurrentStep: 0,
		Status:      model.EnrollmentActive,
		NextDueAt:   &due,
	}
	if err := s.enrollments.Insert(ctx, nil, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Unenroll cancels an enrollment; any pending due step is discarded.
// Idempotent: unenrolling an already-terminal enrollment is a no-op.
func (s *Service) Unenroll(ctx context.Context, workspaceID int64, enrollmentID string) error {
	e, err := s.enrollments.Get(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if e == nil || e.WorkspaceID != workspaceID {
		return ErrNotFound
	}

	ok, err := s.enrollments.UpdateStatus(ctx, nil, enrollmentID, model.EnrollmentActive, model.EnrollmentCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.emitter.Emit(ctx, nil, e.WorkspaceID, model.EventEnrollmentCancelled, map[string]any{
		"enrollment_id": e.ID,
		"campaign_id":   e.CampaignID,
	}); err != nil {
		logger.Log.Error("emit enrollment cancelled failed", zap.String("enrollment_id", e.ID), zap.Error(err))
	}
	if err := s.CompleteIfExhausted(ctx, e.WorkspaceID, e.CampaignID); err != nil {
		logger.Log.Error("campaign completion check failed", zap.String("campaign_id", e.CampaignID), zap.Error(err))
	}
	return nil
}

// Delete destroys a campaign; permitted only in draft or rejected.
func (s *Service) Delete(ctx context.Context, workspaceID int64, campaignID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := s.campaigns.GetForUpdate(ctx, tx, campaignID)
	if err != nil {
		return err
	}
	if c == nil || c.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignRejected {
		return ErrNotDeletable
	}

	if err := s.campaigns.Delete(ctx, tx, campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivateDue performs the deferred scheduled -> active transition for every
// campaign whose start time has passed. Called from the scheduler tick.
func (s *Service) ActivateDue(ctx context.Context) (int, error) {
	due, err := s.campaigns.ListScheduledDue(ctx, 50)
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, c := range due {
		if _, err := s.Transition(ctx, c.WorkspaceID, c.ID, model.CampaignActive); err != nil {
			// One campaign's failure must not block the rest of the batch.
			logger.Log.Warn("scheduled activation failed",
				zap.String("campaign_id", c.ID),
				zap.Error(err))
			continue
		}
		activated++
	}
	return activated, nil
}

// CompleteIfExhausted closes an active campaign once its last enrollment
// reached a terminal state.
func (s *Service) CompleteIfExhausted(ctx context.Context, workspaceID int64, campaignID string) error {
	n, err := s.enrollments.CountActiveByCampaign(ctx, nil, campaignID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err = s.Transition(ctx, workspaceID, campaignID, model.CampaignCompleted)
	if err != nil {
		var ite *InvalidTransitionError
		// Already completed (or paused then completed) by a sibling worker.
		if errors.As(err, &ite) || errors.Is(err, ErrConflict) {
			return nil
		}
	}
	return err
}
