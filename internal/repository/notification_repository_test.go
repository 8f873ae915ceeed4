package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/aulaweb/appeals-api/internal/models"
)

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notification := &models.Notification{
		StudentID: "student-1",
		Message:   "grade recorded",
		ExpiresAt: time.Now().Add(72 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), notification))
	require.NotEmpty(t, notification.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "message", "created_at", "expires_at", "read"}).
		AddRow("notif-2", "student-1", "second", now, now.Add(time.Hour), false).
		AddRow("notif-1", "student-1", "first", now.Add(-time.Minute), now.Add(time.Hour), false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, message, created_at, expires_at, read")).
		WithArgs("student-1", now).
		WillReturnRows(rows)

	notifications, err := repo.ListActive(context.Background(), "student-1", now)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	require.Equal(t, "notif-2", notifications[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1")).
		WithArgs("notif-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRead(context.Background(), "notif-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryDeleteExpired(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	cutoff := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE expires_at <= $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(4), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryDeleteExpiredNothingLeft(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	cutoff := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE expires_at <= $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
