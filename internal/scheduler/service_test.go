package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/campaign"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/outreachd/campaign-engine/internal/retry"
	"github.com/outreachd/campaign-engine/internal/sendprovider"
)

// ---- fakes ----

type fakeEnrollments struct {
	repository.EnrollmentsRepository

	due        []model.Enrollment
	claimOK    bool
	claimed    []string
	released   []string
	deferredTo map[string]time.Time
	skipped    map[string]*time.Time
	advanced   map[string]*time.Time
	statuses   map[string]model.EnrollmentStatus
}

func newFakeEnrollments(due ...model.Enrollment) *fakeEnrollments {
	return &fakeEnrollments{
		due:        due,
		claimOK:    true,
		deferredTo: map[string]time.Time{},
		skipped:    map[string]*time.Time{},
		advanced:   map[string]*time.Time{},
		statuses:   map[string]model.EnrollmentStatus{},
	}
}

func (f *fakeEnrollments) ListDue(context.Context, time.Time, time.Time, int) ([]model.Enrollment, error) {
	return f.due, nil
}
func (f *fakeEnrollments) Claim(_ context.Context, id string, _ int, _ time.Time) (bool, error) {
	if f.claimOK {
		f.claimed = append(f.claimed, id)
	}
	return f.claimOK, nil
}
func (f *fakeEnrollments) ReleaseClaim(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}
func (f *fakeEnrollments) Defer(_ context.Context, id string, due time.Time) error {
	f.deferredTo[id] = due
	return nil
}
func (f *fakeEnrollments) Skip(_ context.Context, _ *sqlx.Tx, id string, _ int, due *time.Time) error {
	f.skipped[id] = due
	return nil
}
func (f *fakeEnrollments) Advance(_ context.Context, _ *sqlx.Tx, id string, _ int, _ time.Time, due *time.Time) error {
	f.advanced[id] = due
	return nil
}
func (f *fakeEnrollments) UpdateStatus(_ context.Context, _ *sqlx.Tx, id string, _, to model.EnrollmentStatus) (bool, error) {
	f.statuses[id] = to
	return true, nil
}
func (f *fakeEnrollments) CountActiveByCampaign(context.Context, *sqlx.Tx, string) (int, error) {
	return 1, nil // never the last one in these tests
}

type fakeSteps struct {
	repository.StepsRepository
	steps map[string][]model.StepDefinition
}

func (f *fakeSteps) ListByCampaign(_ context.Context, campaignID string) ([]model.StepDefinition, error) {
	return f.steps[campaignID], nil
}

type fakeLeads struct {
	repository.LeadsRepository
	events       []model.LeadEvent
	unsubscribed bool
}

func (f *fakeLeads) GetByID(_ context.Context, id int64) (*model.Lead, error) {
	return &model.Lead{ID: id, WorkspaceID: 7, Email: "lead@example.com", Subscribed: !f.unsubscribed}, nil
}
func (f *fakeLeads) ListEventsSince(context.Context, string, string, time.Time) ([]model.LeadEvent, error) {
	return f.events, nil
}

type fakeWorkspaces struct {
	repository.WorkspacesRepository
	cap int64
}

func (f *fakeWorkspaces) GetByID(_ context.Context, id int64) (*model.Workspace, error) {
	return &model.Workspace{ID: id, Status: "active", DailySendCap: f.cap}, nil
}

type fakeLedger struct {
	repository.LedgerRepository
	granted  bool
	consumed int
}

func (f *fakeLedger) TryConsume(context.Context, int64, string, int64, int64) (repository.ConsumeResult, error) {
	f.consumed++
	return repository.ConsumeResult{Granted: f.granted, Remaining: 0}, nil
}

type fakeSender struct {
	sent []sendprovider.SendRequest
	err  error
}

func (f *fakeSender) Send(_ context.Context, req sendprovider.SendRequest) error {
	f.sent = append(f.sent, req)
	return f.err
}

// ---- fixtures ----

var tickNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func activeEnrollment(step int) model.Enrollment {
	created := tickNow.Add(-24 * time.Hour)
	return model.Enrollment{
		ID:          "01ENR",
		CampaignID:  "01CAMP",
		WorkspaceID: 7,
		LeadID:      100,
		CurrentStep: step,
		Status:      model.EnrollmentActive,
		CreatedAt:   created,
	}
}

func newTestService(t *testing.T, enr *fakeEnrollments, steps map[string][]model.StepDefinition, leads *fakeLeads, ledger *fakeLedger, sender *fakeSender) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "mysql")

	emitter := event.NewEmitter(db, repository.NewEventsRepository(db), repository.NewOutboxRepository(db))
	campaignSvc := campaign.NewService(
		db,
		repository.NewCampaignsRepository(db),
		repository.NewStepsRepository(db),
		enr,
		leads,
		emitter,
	)

	svc := NewService(
		db,
		campaignSvc,
		enr,
		&fakeSteps{steps: steps},
		leads,
		&fakeWorkspaces{cap: 100},
		ledger,
		emitter,
		sender,
		Opts{
			BatchSize:       50,
			RecheckInterval: 15 * time.Minute,
			DeferBackoff:    time.Hour,
			SendExec:        retry.Executor{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }},
			Now:             func() time.Time { return tickNow },
		},
	)
	return svc, mock
}

func expectNoCampaignsDue(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM campaigns").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "name", "status", "scheduled_at", "activated_at", "created_at", "updated_at",
		}))
}

// ---- tests ----

func TestTick_LostClaimDoesNothing(t *testing.T) {
	steps := map[string][]model.StepDefinition{
		"01CAMP": {{OrderIndex: 0, TemplateRef: "t1"}},
	}
	enr := newFakeEnrollments(activeEnrollment(0))
	enr.claimOK = false
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats != (TickStats{}) {
		t.Errorf("stats = %+v, want all zero", stats)
	}
	if len(sender.sent) != 0 || ledger.consumed != 0 {
		t.Error("a lost claim must not send or consume")
	}
}

func TestTick_ConditionWaitDefersUntilDeadline(t *testing.T) {
	e := activeEnrollment(0)
	anchor := e.ConditionAnchor()
	steps := map[string][]model.StepDefinition{
		"01CAMP": {{
			OrderIndex:  0,
			TemplateRef: "t1",
			Condition: model.Condition{
				Kind:            model.ConditionEventOccurred,
				EventType:       "email.opened",
				DeadlineMinutes: int(tickNow.Sub(anchor).Minutes()) + 5, // deadline 5m out
				OnFalse:         model.BranchSkip,
			},
		}},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("stats = %+v, want one waiting", stats)
	}
	// Re-check is capped at the deadline, not the full recheck interval.
	due, ok := enr.deferredTo[e.ID]
	if !ok {
		t.Fatal("enrollment not deferred")
	}
	wantDeadline := anchor.Add(time.Duration(steps["01CAMP"][0].DeadlineMinutes) * time.Minute)
	if !due.Equal(wantDeadline) {
		t.Errorf("deferred to %v, want deadline %v", due, wantDeadline)
	}
	if len(sender.sent) != 0 || ledger.consumed != 0 {
		t.Error("waiting must not send or consume")
	}
}

func TestTick_BranchSkipAdvancesWithoutSend(t *testing.T) {
	e := activeEnrollment(0)
	steps := map[string][]model.StepDefinition{
		"01CAMP": {
			{
				OrderIndex:  0,
				TemplateRef: "t1",
				Condition: model.Condition{
					Kind:      model.ConditionEventOccurred,
					EventType: "email.opened",
					OnFalse:   model.BranchSkip, // zero deadline: decide now
				},
			},
			{OrderIndex: 1, TemplateRef: "t2", DelayMinutes: 60},
		},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want one skipped", stats)
	}
	due := enr.skipped[e.ID]
	if due == nil {
		t.Fatal("skip not recorded")
	}
	// The skipped step's successor is due after its own delay from now.
	if want := tickNow.Add(60 * time.Minute); !due.Equal(want) {
		t.Errorf("next due = %v, want %v", due, want)
	}
	if len(sender.sent) != 0 || ledger.consumed != 0 {
		t.Error("a skipped step must not send or consume a credit")
	}
}

func TestTick_LedgerDenialDefersEnrollment(t *testing.T) {
	e := activeEnrollment(0)
	steps := map[string][]model.StepDefinition{
		"01CAMP": {{OrderIndex: 0, TemplateRef: "t1"}},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: false}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)
	// Deferral event: domain_events + outbox in one internal tx.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deferred != 1 {
		t.Fatalf("stats = %+v, want one deferred", stats)
	}
	if len(sender.sent) != 0 {
		t.Error("denied consumption must not send")
	}
	due, ok := enr.deferredTo[e.ID]
	if !ok || !due.Equal(tickNow.Add(time.Hour)) {
		t.Errorf("deferred to %v, want now+1h", due)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTick_ExecutesDueStepAndAdvances(t *testing.T) {
	e := activeEnrollment(0)
	steps := map[string][]model.StepDefinition{
		"01CAMP": {
			{OrderIndex: 0, TemplateRef: "t1"},
			{OrderIndex: 1, TemplateRef: "t2", DelayMinutes: 30},
		},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)
	// Finalize tx: advance cursor + step.executed event.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Executed != 1 || stats.Completed != 0 {
		t.Fatalf("stats = %+v, want one executed", stats)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sender.sent))
	}
	req := sender.sent[0]
	if req.EnrollmentID != e.ID || req.TemplateRef != "t1" || req.StepOrder != 0 {
		t.Errorf("send request = %+v", req)
	}
	if ledger.consumed != 1 {
		t.Errorf("ledger consumptions = %d, want 1", ledger.consumed)
	}
	due := enr.advanced[e.ID]
	if due == nil {
		t.Fatal("cursor not advanced")
	}
	if want := tickNow.Add(30 * time.Minute); !due.Equal(want) {
		t.Errorf("next due = %v, want executed+delay %v", due, want)
	}
}

func TestTick_UnsubscribedLeadCancelsWithoutSend(t *testing.T) {
	e := activeEnrollment(0)
	steps := map[string][]model.StepDefinition{
		"01CAMP": {{OrderIndex: 0, TemplateRef: "t1"}},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{unsubscribed: true}, ledger, sender)
	expectNoCampaignsDue(mock)
	// enrollment.cancelled event in its own tx.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Cancelled != 1 {
		t.Fatalf("stats = %+v, want one cancelled", stats)
	}
	if enr.statuses[e.ID] != model.EnrollmentCancelled {
		t.Errorf("enrollment status = %s, want cancelled", enr.statuses[e.ID])
	}
	if len(sender.sent) != 0 {
		t.Error("an unsubscribed lead must not receive a send")
	}
	if ledger.consumed != 0 {
		t.Error("an unsubscribed lead must not consume a credit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTick_SendFailureFreezesEnrollment(t *testing.T) {
	e := activeEnrollment(0)
	steps := map[string][]model.StepDefinition{
		"01CAMP": {{OrderIndex: 0, TemplateRef: "t1"}},
	}
	enr := newFakeEnrollments(e)
	ledger := &fakeLedger{granted: true}
	sender := &fakeSender{err: sendprovider.ErrNoHealthy}

	svc, mock := newTestService(t, enr, steps, &fakeLeads{}, ledger, sender)
	expectNoCampaignsDue(mock)
	// step.send_failed event in its own tx.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want one failed", stats)
	}
	if enr.statuses[e.ID] != model.EnrollmentFailed {
		t.Errorf("enrollment status = %s, want failed", enr.statuses[e.ID])
	}
	// Exhausted retries: all three attempts went to the provider.
	if len(sender.sent) != 3 {
		t.Errorf("send attempts = %d, want 3", len(sender.sent))
	}
	if len(enr.advanced) != 0 {
		t.Error("a failed step must never advance the cursor")
	}
}
