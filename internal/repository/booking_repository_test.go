package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBookingRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date FROM appeals WHERE id = $1 FOR SHARE")).
		WithArgs("appeal-1").
		WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(time.Now().AddDate(0, 1, 0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	booking, err := repo.Create(context.Background(), "appeal-1", "student-1")
	require.NoError(t, err)
	require.Equal(t, "appeal-1", booking.AppealID)
	require.Equal(t, "student-1", booking.StudentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateMissingAppeal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date FROM appeals WHERE id = $1 FOR SHARE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "missing", "student-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateClosedAppeal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date FROM appeals WHERE id = $1 FOR SHARE")).
		WithArgs("appeal-1").
		WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(time.Now().AddDate(0, -1, 0)))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "appeal-1", "student-1")
	require.ErrorIs(t, err, ErrAppealClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT date FROM appeals WHERE id = $1 FOR SHARE")).
		WithArgs("appeal-1").
		WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(time.Now().AddDate(0, 1, 0)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), "appeal-1", "student-1")
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings WHERE appeal_id = $1 AND student_id = $2")).
		WithArgs("appeal-1", "student-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "appeal-1", "student-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM bookings WHERE appeal_id = $1 AND student_id = $2")).
		WithArgs("appeal-1", "student-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "appeal-1", "student-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryListStudentsByAppeal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"appeal_id", "student_id", "created_at", "student_name"}).
		AddRow("appeal-1", "student-2", now, "Ada Lovelace").
		AddRow("appeal-1", "student-1", now, "Charles Babbage")
	mock.ExpectQuery("SELECT b.appeal_id, b.student_id, b.created_at, s.full_name AS student_name").
		WithArgs("appeal-1").
		WillReturnRows(rows)

	bookings, err := repo.ListStudentsByAppeal(context.Background(), "appeal-1")
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	require.Equal(t, "Ada Lovelace", bookings[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewBookingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM bookings WHERE appeal_id = $1 AND student_id = $2)")).
		WithArgs("appeal-1", "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "appeal-1", "student-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
