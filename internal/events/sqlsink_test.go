package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/internal/logging"
)

func TestSQLSinkRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sink := newSQLSink(db, "postgres", logging.Nop())
	defer func() { _ = sink.Close() }()

	mock.ExpectExec(`INSERT INTO auth_events`).
		WithArgs(sqlmock.AnyArg(), "acme", "auth_failure", "denied", "10.1.2.3", "req-1", false, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sink.Record(context.Background(), Event{
		Timestamp:     time.Now(),
		ClientID:      "acme",
		Type:          TypeAuthFailure,
		Outcome:       "denied",
		SourceAddress: "10.1.2.3",
		RequestID:     "req-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkRecordFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sink := newSQLSink(db, "postgres", logging.Nop())
	defer func() { _ = sink.Close() }()

	mock.ExpectExec(`INSERT INTO auth_events`).WillReturnError(errors.New("connection reset"))

	err = sink.Record(context.Background(), Event{ClientID: "acme", Type: TypeAuthSuccess, Outcome: "ok"})
	assert.Error(t, err)
}

func TestSQLSinkFillsTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sink := newSQLSink(db, "mysql", logging.Nop())
	defer func() { _ = sink.Close() }()

	mock.ExpectExec(`INSERT INTO auth_events`).
		WithArgs(sqlmock.AnyArg(), "acme", "token_minted", "ok", "", "", false, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Record(context.Background(), Event{ClientID: "acme", Type: TypeTokenMinted, Outcome: "ok"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLSinkRejectsUnknownType(t *testing.T) {
	_, err := NewSQLSink("mongodb", "dsn", logging.Nop())
	assert.Error(t, err)
}

func TestMemoryRecorder(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Record(context.Background(), Event{ClientID: "acme", Type: TypeAuthSuccess, Outcome: "ok"}))
	require.NoError(t, m.Record(context.Background(), Event{ClientID: "acme", Type: TypeAuthFailure, Outcome: "denied"}))

	assert.Len(t, m.Events(), 2)
	assert.Len(t, m.ByType(TypeAuthFailure), 1)
	assert.False(t, m.Events()[0].Timestamp.IsZero(), "timestamp filled on record")
}
