package store

import (
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUpdateMessageFeedback_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newStore(db, zaptest.NewLogger(t))

	mock.ExpectPrepare("UPDATE messages SET feedback").
		ExpectExec().
		WithArgs("positive", "m1", "alice").
		WillReturnError(errors.New("disk I/O error"))

	err = s.UpdateMessageFeedback("alice", "m1", "positive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute feedback update")
	assert.False(t, errors.Is(err, ErrNotFound))

	mock.ExpectPrepare("UPDATE messages SET feedback").
		ExpectExec().
		WithArgs("neutral", "m2", "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.UpdateMessageFeedback("alice", "m2", "neutral")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessages_SkipsUnreadableCitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newStore(db, zaptest.NewLogger(t))

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "citations_json", "feedback", "created_at"}).
		AddRow("m1", "c1", RoleAssistant, "See [doc1].", "{not json", nil, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE conversation_id = \\?").
		WithArgs("c1").
		WillReturnRows(rows)

	msgs, err := s.GetMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Citations)
	assert.Nil(t, msgs[0].Feedback)
	assert.NoError(t, mock.ExpectationsWereMet())
}
