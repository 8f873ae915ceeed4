package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aulaweb/appeals-api/internal/models"
)

// BookingRepository handles the student-appeal booking relation.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a booking after verifying the appeal is still open, all in
// one transaction. A share lock on the appeal row keeps the date check and
// the insert consistent against a concurrent appeal delete; the unique index
// on (appeal_id, student_id) decides races between bookings for the same
// student, so exactly one of two concurrent calls wins.
//
// Returns sql.ErrNoRows when the appeal does not exist, ErrAppealClosed when
// its date has passed and ErrDuplicate when the student is already booked.
func (r *BookingRepository) Create(ctx context.Context, appealID, studentID string) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin booking: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var appealDate time.Time
	if err := tx.GetContext(ctx, &appealDate, "SELECT date FROM appeals WHERE id = $1 FOR SHARE", appealID); err != nil {
		return nil, err
	}
	if appealDate.Before(startOfDay(time.Now().UTC())) {
		return nil, ErrAppealClosed
	}

	booking := &models.Booking{AppealID: appealID, StudentID: studentID, CreatedAt: time.Now().UTC()}
	const query = `INSERT INTO bookings (appeal_id, student_id, created_at) VALUES (:appeal_id, :student_id, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, booking); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return booking, nil
}

// Delete removes a booking. Absence is an error so callers can detect stale
// state; returns sql.ErrNoRows when no such booking exists.
func (r *BookingRepository) Delete(ctx context.Context, appealID, studentID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM bookings WHERE appeal_id = $1 AND student_id = $2", appealID, studentID)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete booking result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Exists reports whether the student holds a booking for the appeal.
func (r *BookingRepository) Exists(ctx context.Context, appealID, studentID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM bookings WHERE appeal_id = $1 AND student_id = $2)", appealID, studentID); err != nil {
		return false, fmt.Errorf("check booking: %w", err)
	}
	return exists, nil
}

// CountByAppeal returns the number of bookings on the appeal.
func (r *BookingRepository) CountByAppeal(ctx context.Context, appealID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM bookings WHERE appeal_id = $1", appealID); err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return count, nil
}

// ListStudentsByAppeal returns the booked students with their names, for
// result sheets.
func (r *BookingRepository) ListStudentsByAppeal(ctx context.Context, appealID string) ([]models.BookingDetail, error) {
	const query = `SELECT b.appeal_id, b.student_id, b.created_at, s.full_name AS student_name
        FROM bookings b
        LEFT JOIN students s ON s.id = b.student_id
        WHERE b.appeal_id = $1
        ORDER BY s.full_name ASC`
	var bookings []models.BookingDetail
	if err := r.db.SelectContext(ctx, &bookings, query, appealID); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
