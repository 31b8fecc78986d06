package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
	"github.com/outreachd/campaign-engine/internal/repository"
	"github.com/stretchr/testify/require"
)

func setupEmitter(t *testing.T) (*Emitter, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "mysql")
	return NewEmitter(db, repository.NewEventsRepository(db), repository.NewOutboxRepository(db)), mock
}

func TestEmit_WritesEventAndOutboxInOneTx(t *testing.T) {
	emitter, mock := setupEmitter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	eventID, err := emitter.Emit(context.Background(), nil, 7, model.EventStepExecuted, map[string]any{
		"enrollment_id": "01ENR",
	})
	require.NoError(t, err)
	require.NotEmpty(t, eventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmit_JoinsCallerTransaction(t *testing.T) {
	emitter, mock := setupEmitter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO domain_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	// No commit here: the caller owns the transaction boundary.
	mock.ExpectRollback()

	tx, err := emitter.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	_, err = emitter.Emit(context.Background(), tx, 7, model.EventEnrollmentCompleted, map[string]any{
		"enrollment_id": "01ENR",
		"reason":        "sequence_exhausted",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmit_RejectsUnmarshalablePayload(t *testing.T) {
	emitter, _ := setupEmitter(t)

	_, err := emitter.Emit(context.Background(), nil, 7, model.EventStepExecuted, make(chan int))
	require.Error(t, err)
}

func TestEventEnvelope_Shape(t *testing.T) {
	env := model.EventEnvelope{
		EventID:     "01EVT",
		WorkspaceID: 7,
		EventType:   model.EventStepExecuted,
		Payload:     json.RawMessage(`{"enrollment_id":"01ENR"}`),
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var back model.EventEnvelope
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, env.EventID, back.EventID)
	require.Equal(t, env.EventType, back.EventType)
	require.JSONEq(t, string(env.Payload), string(back.Payload))
}
