package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aulaweb/appeals-api/internal/models"
)

// OutcomeRepository handles persistence of examination outcomes.
type OutcomeRepository struct {
	db *sqlx.DB
}

// NewOutcomeRepository constructs the repository.
func NewOutcomeRepository(db *sqlx.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Create inserts a new outcome after verifying the student still holds a
// booking, inside one transaction. The appeal row is share-locked first so the
// insert serializes against Delete, which takes the same row FOR UPDATE and
// would otherwise not see this outcome until commit. The booking row is
// share-locked so a concurrent unbook cannot slip between the check and the
// insert; the unique index on (appeal_id, student_id) makes creation a
// one-shot event.
//
// Returns sql.ErrNoRows when the appeal no longer exists, ErrNoBooking when
// the student has no booking on the appeal and ErrDuplicate when an outcome
// already exists for the pair.
func (r *OutcomeRepository) Create(ctx context.Context, outcome *models.Outcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.NewString()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var appealID string
	if err := tx.GetContext(ctx, &appealID, "SELECT id FROM appeals WHERE id = $1 FOR SHARE", outcome.AppealID); err != nil {
		return err
	}

	var booked string
	err = tx.GetContext(ctx, &booked,
		"SELECT student_id FROM bookings WHERE appeal_id = $1 AND student_id = $2 FOR SHARE",
		outcome.AppealID, outcome.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoBooking
		}
		return fmt.Errorf("check booking for outcome: %w", err)
	}

	const query = `INSERT INTO outcomes (id, appeal_id, student_id, present, grade, with_honors, accepted, message, created_at)
        VALUES (:id, :appeal_id, :student_id, :present, :grade, :with_honors, :accepted, :message, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, outcome); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// FindByID returns an outcome by its ID.
func (r *OutcomeRepository) FindByID(ctx context.Context, id string) (*models.Outcome, error) {
	const query = `SELECT id, appeal_id, student_id, present, grade, with_honors, accepted, message, created_at FROM outcomes WHERE id = $1`
	var outcome models.Outcome
	if err := r.db.GetContext(ctx, &outcome, query, id); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// FindByAppealAndStudent returns the outcome for a (appeal, student) pair.
func (r *OutcomeRepository) FindByAppealAndStudent(ctx context.Context, appealID, studentID string) (*models.Outcome, error) {
	const query = `SELECT id, appeal_id, student_id, present, grade, with_honors, accepted, message, created_at
        FROM outcomes WHERE appeal_id = $1 AND student_id = $2`
	var outcome models.Outcome
	if err := r.db.GetContext(ctx, &outcome, query, appealID, studentID); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ListDetailByAppeal returns all outcomes of an appeal with directory names,
// for result sheets.
func (r *OutcomeRepository) ListDetailByAppeal(ctx context.Context, appealID string) ([]models.OutcomeDetail, error) {
	const query = `SELECT o.id, o.appeal_id, o.student_id, o.present, o.grade, o.with_honors, o.accepted, o.message, o.created_at,
        s.full_name AS student_name, c.name AS course_name
        FROM outcomes o
        LEFT JOIN students s ON s.id = o.student_id
        LEFT JOIN appeals a ON a.id = o.appeal_id
        LEFT JOIN courses c ON c.id = a.course_id
        WHERE o.appeal_id = $1
        ORDER BY s.full_name ASC`
	var outcomes []models.OutcomeDetail
	if err := r.db.SelectContext(ctx, &outcomes, query, appealID); err != nil {
		return nil, fmt.Errorf("list appeal outcomes: %w", err)
	}
	return outcomes, nil
}

// MarkAccepted flips accepted to true exactly once. The predicate makes the
// transition one-way; zero affected rows means the outcome was already
// accepted (existence is checked by the caller beforehand).
func (r *OutcomeRepository) MarkAccepted(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE outcomes SET accepted = TRUE WHERE id = $1 AND accepted = FALSE", id)
	if err != nil {
		return false, fmt.Errorf("accept outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept outcome result: %w", err)
	}
	return affected == 1, nil
}
