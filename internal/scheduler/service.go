// Package scheduler advances enrollments through their campaign sequences.
// It runs as a recurring background tick across multiple workers; every
// shared mutation is a conditional store update so concurrent ticks stay
// correct without coordination.
package scheduler

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/logger"
	"github.com/outreachd/campaign-engine/internal/metrics"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/retry"
	"github.com/outreachd/campaign-engine/internal/sendprovider"
	"go.uber.org/zap"
)

// Sender executes a step's send action against an external provider.
type Sender interface {
	Send(ctx context.Context, req sendprovider.SendRequest) error
}

// Service owns the per-enrollment step cursor. One Tick scans due
// enrollments, claims each with a conditional update, and executes, skips,
// defers, or terminates it. Per-enrollment failures are isolated: they are
// recorded and never abort the rest of the batch.
type Service struct {
	db          *sqlx.DB
	campaigns   *campaign.Service
	enrollments repository.EnrollmentsRepository
	steps       repository.StepsRepository
	leads       repository.LeadsRepository
	workspaces  repository.WorkspacesRepository
	ledger      repository.LedgerRepository
	emitter     *event.Emitter
	sender      Sender
	sendExec    retry.Executor

	BatchSize       int
	RecheckInterval time.Duration // wait-outcome re-evaluation
	DeferBackoff    time.Duration // ledger-denied re-attempt
	ClaimTTL        time.Duration // after this a held claim counts as abandoned
	now             func() time.Time
}

// Opts tunes the scheduler; zero values take defaults.
type Opts struct {
	BatchSize       int
	RecheckInterval time.Duration
	DeferBackoff    time.Duration
	ClaimTTL        time.Duration
	SendExec        retry.Executor
	Now             func() time.Time
}

func NewService(
	db *sqlx.DB,
	campaigns *campaign.Service,
	enrollments repository.EnrollmentsRepository,
	steps repository.StepsRepository,
	leads repository.LeadsRepository,
	workspaces repository.WorkspacesRepository,
	ledger repository.LedgerRepository,
	emitter *event.Emitter,
	sender Sender,
	opts Opts,
) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = 15 * time.Minute
	}
	if opts.DeferBackoff <= 0 {
		opts.DeferBackoff = time.Hour
	}
	if opts.ClaimTTL <= 0 {
		// Long enough for the slowest legitimate step (3 send attempts at 10s
		// each plus backoff), short enough that a crashed worker's enrollments
		// recover within a few ticks.
		opts.ClaimTTL = 10 * time.Minute
	}
	if opts.SendExec.MaxAttempts == 0 {
		opts.SendExec = retry.Executor{
			MaxAttempts:       3,
			Delays:            []time.Duration{2 * time.Second, 6 * time.Second},
			PerAttemptTimeout: 10 * time.Second,
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:              db,
		campaigns:       campaigns,
		enrollments:     enrollments,
		steps:           steps,
		leads:           leads,
		workspaces:      workspaces,
		ledger:          ledger,
		emitter:         emitter,
		sender:          sender,
		sendExec:        opts.SendExec,
		BatchSize:       opts.BatchSize,
		RecheckInterval: opts.RecheckInterval,
		DeferBackoff:    opts.DeferBackoff,
		ClaimTTL:        opts.ClaimTTL,
		now:             opts.Now,
	}
}

// TickStats summarizes one scan for logging and tests.
type TickStats struct {
	Activated int
	Executed  int
	Skipped   int
	Deferred  int
	Waiting   int
	Completed int
	Cancelled int
	Failed    int
}

// Tick promotes due scheduled campaigns, then processes every due
// enrollment once. Safe to run concurrently from multiple workers.
func (s *Service) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats

	activated, err := s.campaigns.ActivateDue(ctx)
	if err != nil {
		logger.Log.Error("scheduled campaign activation scan failed", zap.Error(err))
	}
	stats.Activated = activated

	now := s.now()
	due, err := s.enrollments.ListDue(ctx, now, now.Add(-s.ClaimTTL), s.BatchSize)
	if err != nil {
		return stats, err
	}

	stepCache := make(map[string][]model.StepDefinition, 8)
	for i := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		e := due[i]

		steps, ok := stepCache[e.CampaignID]
		if !ok {
			steps, err = s.steps.ListByCampaign(ctx, e.CampaignID)
			if err != nil {
				logger.Log.Error("load steps failed",
					zap.String("campaign_id", e.CampaignID), zap.Error(err))
				continue
			}
			stepCache[e.CampaignID] = steps
		}

		s.processEnrollment(ctx, e, steps, &stats)
	}
	return stats, nil
}

// processEnrollment handles one due enrollment end to end. Any error is
// recorded against this enrollment only.
func (s *Service) processEnrollment(ctx context.Context, e model.Enrollment, steps []model.StepDefinition, stats *TickStats) {
	claimed, err := s.enrollments.Claim(ctx, e.ID, e.CurrentStep, s.now().Add(-s.ClaimTTL))
	if err != nil {
		logger.Log.Error("claim failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		return
	}
	if !claimed {
		// A sibling worker holds a live claim on this step; (enrollment, step)
		// executes once.
		return
	}

	if e.CurrentStep >= len(steps) {
		// Data integrity fault: cursor past the last defined step. Fatal for
		// this enrollment only.
		s.failEnrollment(ctx, e, 0, "step cursor past last defined step")
		stats.Failed++
		return
	}

	step := steps[e.CurrentStep]
	now := s.now()
	anchor := e.ConditionAnchor()

	if step.Kind != model.ConditionNone && step.Kind != "" {
		events, err := s.leads.ListEventsSince(ctx, e.ID, step.EventType, anchor)
		if err != nil {
			logger.Log.Error("load lead events failed", zap.String("enrollment_id", e.ID), zap.Error(err))
			s.release(ctx, e.ID)
			return
		}

		switch EvaluateCondition(step.Condition, events, anchor, now) {
		case OutcomeWait:
			recheck := now.Add(s.RecheckInterval)
			if step.DeadlineMinutes > 0 {
				if deadline := step.Deadline(anchor); deadline.Before(recheck) {
					recheck = deadline
				}
			}
			if err := s.enrollments.Defer(ctx, e.ID, recheck); err != nil {
				logger.Log.Error("defer failed", zap.String("enrollment_id", e.ID), zap.Error(err))
			}
			stats.Waiting++
			return

		case OutcomeBranchFalse:
			s.branchFalse(ctx, e, steps, now, stats)
			return
		}
		// OutcomeExecute falls through to the send path.
	}

	s.executeStep(ctx, e, steps, step, now, stats)
}

// branchFalse applies a step's else branch: skip past it or stop the
// enrollment, without consuming a credit.
func (s *Service) branchFalse(ctx context.Context, e model.Enrollment, steps []model.StepDefinition, now time.Time, stats *TickStats) {
	if steps[e.CurrentStep].OnFalse == model.BranchStop {
		s.complete(ctx, e, "branch_stop", stats)
		return
	}

	next := e.CurrentStep + 1
	if next >= len(steps) {
		s.complete(ctx, e, "sequence_exhausted", stats)
		return
	}

	due := now.Add(steps[next].Delay())
	if err := s.enrollments.Skip(ctx, nil, e.ID, e.CurrentStep, &due); err != nil {
		logger.Log.Error("skip failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}
	metrics.StepsTotal.WithLabelValues("skipped").Inc()
	stats.Skipped++
}

// executeStep consumes one ledger unit, runs the send action under bounded
// retry, and advances the cursor.
func (s *Service) executeStep(ctx context.Context, e model.Enrollment, steps []model.StepDefinition, step model.StepDefinition, now time.Time, stats *TickStats) {
	lead, err := s.leads.GetByID(ctx, e.LeadID)
	if err != nil || lead == nil {
		s.failEnrollment(ctx, e, 0, "lead missing")
		stats.Failed++
		return
	}
	if !lead.Subscribed {
		// Terminal lead-level event: no send, no credit consumed.
		s.cancel(ctx, e, "lead_unsubscribed", stats)
		return
	}

	ws, err := s.workspaces.GetByID(ctx, e.WorkspaceID)
	if err != nil || ws == nil {
		logger.Log.Error("workspace lookup failed", zap.Int64("workspace_id", e.WorkspaceID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}

	res, err := s.ledger.TryConsume(ctx, e.WorkspaceID, model.PeriodKey(now), 1, ws.DailySendCap)
	if err != nil {
		logger.Log.Error("ledger consume failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}
	if !res.Granted {
		// Not an error: the step stays pending and re-runs on a later tick.
		metrics.LedgerDenialsTotal.Inc()
		if err := s.enrollments.Defer(ctx, e.ID, now.Add(s.DeferBackoff)); err != nil {
			logger.Log.Error("defer failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		}
		if _, err := s.emitter.Emit(ctx, nil, e.WorkspaceID, model.EventEnrollmentDeferred, map[string]any{
			"enrollment_id": e.ID,
			"campaign_id":   e.CampaignID,
			"step_order":    e.CurrentStep,
			"remaining":     res.Remaining,
		}); err != nil {
			logger.Log.Error("emit deferred event failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		}
		stats.Deferred++
		return
	}

	req := sendprovider.SendRequest{
		EnrollmentID: e.ID,
		LeadID:       e.LeadID,
		LeadEmail:    lead.Email,
		TemplateRef:  step.TemplateRef,
		StepOrder:    e.CurrentStep,
	}
	attempts, sendErr := s.sendExec.Do(ctx, func(ctx context.Context) error {
		return s.sender.Send(ctx, req)
	})
	if sendErr != nil {
		metrics.StepsTotal.WithLabelValues("failed").Inc()
		s.failEnrollment(ctx, e, attempts, sendErr.Error())
		stats.Failed++
		return
	}

	executedAt := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		logger.Log.Error("begin finalize tx failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}
	defer func() { _ = tx.Rollback() }()

	var nextDue *time.Time
	last := e.CurrentStep+1 >= len(steps)
	if !last {
		d := executedAt.Add(steps[e.CurrentStep+1].Delay())
		nextDue = &d
	}
	if err := s.enrollments.Advance(ctx, tx, e.ID, e.CurrentStep, executedAt, nextDue); err != nil {
		logger.Log.Error("advance failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		return
	}
	if _, err := s.emitter.Emit(ctx, tx, e.WorkspaceID, model.EventStepExecuted, map[string]any{
		"enrollment_id": e.ID,
		"campaign_id":   e.CampaignID,
		"step_order":    e.CurrentStep,
		"attempts":      attempts,
	}); err != nil {
		logger.Log.Error("emit step executed failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		return
	}
	if last {
		if _, err := s.enrollments.UpdateStatus(ctx, tx, e.ID, model.EnrollmentActive, model.EnrollmentCompleted); err != nil {
			logger.Log.Error("complete enrollment failed", zap.String("enrollment_id", e.ID), zap.Error(err))
			return
		}
		if _, err := s.emitter.Emit(ctx, tx, e.WorkspaceID, model.EventEnrollmentCompleted, map[string]any{
			"enrollment_id": e.ID,
			"campaign_id":   e.CampaignID,
			"reason":        "sequence_exhausted",
		}); err != nil {
			logger.Log.Error("emit enrollment completed failed", zap.String("enrollment_id", e.ID), zap.Error(err))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Error("finalize commit failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		return
	}

	metrics.StepsTotal.WithLabelValues("executed").Inc()
	stats.Executed++
	if last {
		stats.Completed++
		s.checkCampaignDone(ctx, e)
	}
}

// cancel terminates an enrollment on a terminal lead-level event (e.g. the
// lead unsubscribed); pending due steps are discarded.
func (s *Service) cancel(ctx context.Context, e model.Enrollment, reason string, stats *TickStats) {
	ok, err := s.enrollments.UpdateStatus(ctx, nil, e.ID, model.EnrollmentActive, model.EnrollmentCancelled)
	if err != nil || !ok {
		logger.Log.Error("cancel enrollment failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}
	if _, err := s.emitter.Emit(ctx, nil, e.WorkspaceID, model.EventEnrollmentCancelled, map[string]any{
		"enrollment_id": e.ID,
		"campaign_id":   e.CampaignID,
		"reason":        reason,
	}); err != nil {
		logger.Log.Error("emit enrollment cancelled failed", zap.String("enrollment_id", e.ID), zap.Error(err))
	}
	stats.Cancelled++
	s.checkCampaignDone(ctx, e)
}

// complete terminates an enrollment without a send (stop branch or skip off
// the end of the sequence).
func (s *Service) complete(ctx context.Context, e model.Enrollment, reason string, stats *TickStats) {
	ok, err := s.enrollments.UpdateStatus(ctx, nil, e.ID, model.EnrollmentActive, model.EnrollmentCompleted)
	if err != nil || !ok {
		logger.Log.Error("complete enrollment failed", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
		return
	}
	if _, err := s.emitter.Emit(ctx, nil, e.WorkspaceID, model.EventEnrollmentCompleted, map[string]any{
		"enrollment_id": e.ID,
		"campaign_id":   e.CampaignID,
		"reason":        reason,
	}); err != nil {
		logger.Log.Error("emit enrollment completed failed", zap.String("enrollment_id", e.ID), zap.Error(err))
	}
	stats.Completed++
	s.checkCampaignDone(ctx, e)
}

// failEnrollment freezes an enrollment at its current step and surfaces the
// failure for operator review. It never advances past the failed step.
func (s *Service) failEnrollment(ctx context.Context, e model.Enrollment, attempts int, reason string) {
	if _, err := s.enrollments.UpdateStatus(ctx, nil, e.ID, model.EnrollmentActive, model.EnrollmentFailed); err != nil {
		logger.Log.Error("mark enrollment failed errored", zap.String("enrollment_id", e.ID), zap.Error(err))
		s.release(ctx, e.ID)
	}
	if _, err := s.emitter.Emit(ctx, nil, e.WorkspaceID, model.EventStepSendFailed, map[string]any{
		"enrollment_id": e.ID,
		"campaign_id":   e.CampaignID,
		"step_order":    e.CurrentStep,
		"attempts":      attempts,
		"error":         reason,
	}); err != nil {
		logger.Log.Error("emit send failed event errored", zap.String("enrollment_id", e.ID), zap.Error(err))
	}
	logger.Log.Warn("enrollment step failed",
		zap.String("enrollment_id", e.ID),
		zap.Int("step_order", e.CurrentStep),
		zap.String("reason", reason))
	s.checkCampaignDone(ctx, e)
}

func (s *Service) checkCampaignDone(ctx context.Context, e model.Enrollment) {
	if err := s.campaigns.CompleteIfExhausted(ctx, e.WorkspaceID, e.CampaignID); err != nil {
		logger.Log.Error("campaign completion check failed",
			zap.String("campaign_id", e.CampaignID), zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, enrollmentID string) {
	if err := s.enrollments.ReleaseClaim(ctx, enrollmentID); err != nil {
		logger.Log.Error("release claim failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}
