package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/event"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
)

func setupService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "mysql")

	emitter := event.NewEmitter(db, repository.NewEventsRepository(db), repository.NewOutboxRepository(db))
	svc := NewService(
		db,
		repository.NewCampaignsRepository(db),
		repository.NewStepsRepository(db),
		repository.NewEnrollmentsRepository(db),
		repository.NewLeadsRepository(db),
		emitter,
	)
	return svc, mock
}

func campaignRow(id string, wsID int64, status model.CampaignStatus, activatedAt *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "workspace_id", "name", "status", "scheduled_at", "activated_at", "created_at", "updated_at",
	}).AddRow(id, wsID, "Q2 Outreach", status.String(), nil, activatedAt, now, now)
}

func TestTransition_PauseActive(t *testing.T) {
	svc, mock := setupService(t)
	activated := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = (.+) FOR UPDATE").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignActive, &activated))
	mock.ExpectExec("UPDATE campaigns").
		WithArgs(model.CampaignPaused.String(), "01CAMP", model.CampaignActive.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO domain_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c, err := svc.Transition(context.Background(), 7, "01CAMP", model.CampaignPaused)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.Status != model.CampaignPaused {
		t.Errorf("status = %s, want paused", c.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTransition_IllegalLeavesCampaignUntouched(t *testing.T) {
	svc, mock := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = (.+) FOR UPDATE").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignDraft, nil))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), 7, "01CAMP", model.CampaignActive)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTransition_OtherWorkspaceIsNotFound(t *testing.T) {
	svc, mock := setupService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = (.+) FOR UPDATE").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 99, model.CampaignActive, nil))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), 7, "01CAMP", model.CampaignPaused)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTransition_ConcurrentStatusChangeConflicts(t *testing.T) {
	svc, mock := setupService(t)
	activated := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = (.+) FOR UPDATE").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignActive, &activated))
	// Conditional update misses: a sibling worker changed the status first.
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), 7, "01CAMP", model.CampaignPaused)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestEnroll_RejectsNonEnrollableStatus(t *testing.T) {
	svc, mock := setupService(t)

	// A draft has no approved sequence; manual enrollment must be refused
	// before any enrollment row is touched.
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id =").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignDraft, nil))

	_, err := svc.Enroll(context.Background(), 7, "01CAMP", 100)
	if !errors.Is(err, ErrNotEnrollable) {
		t.Fatalf("want ErrNotEnrollable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnroll_RejectsCompletedCampaign(t *testing.T) {
	svc, mock := setupService(t)
	activated := time.Now().Add(-48 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id =").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignCompleted, &activated))

	_, err := svc.Enroll(context.Background(), 7, "01CAMP", 100)
	if !errors.Is(err, ErrNotEnrollable) {
		t.Fatalf("want ErrNotEnrollable, got %v", err)
	}
}

func TestDelete_OnlyDraftOrRejected(t *testing.T) {
	svc, mock := setupService(t)
	activated := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id = (.+) FOR UPDATE").
		WithArgs("01CAMP").
		WillReturnRows(campaignRow("01CAMP", 7, model.CampaignActive, &activated))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), 7, "01CAMP")
	if !errors.Is(err, ErrNotDeletable) {
		t.Fatalf("want ErrNotDeletable, got %v", err)
	}
}
