package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aulaweb/appeals-api/internal/models"
)

// AppealRepository handles persistence of appeals.
type AppealRepository struct {
	db *sqlx.DB
}

// NewAppealRepository constructs the repository.
func NewAppealRepository(db *sqlx.DB) *AppealRepository {
	return &AppealRepository{db: db}
}

const appealDetailColumns = `a.id, a.course_id, a.degree_course_id, a.professor_id, a.description, a.date, a.created_at,
        c.name AS course_name, d.name AS degree_course_name, p.full_name AS professor_name,
        (SELECT COUNT(*) FROM bookings b WHERE b.appeal_id = a.id) AS booking_count`

const appealDetailJoins = `FROM appeals a
LEFT JOIN courses c ON c.id = a.course_id
LEFT JOIN degree_courses d ON d.id = a.degree_course_id
LEFT JOIN professors p ON p.id = a.professor_id`

// Create persists a new appeal row.
func (r *AppealRepository) Create(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	if appeal.CreatedAt.IsZero() {
		appeal.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO appeals (id, course_id, degree_course_id, professor_id, description, date, created_at)
        VALUES (:id, :course_id, :degree_course_id, :professor_id, :description, :date, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appeal); err != nil {
		return fmt.Errorf("create appeal: %w", err)
	}
	return nil
}

// FindByID returns an appeal by its ID.
func (r *AppealRepository) FindByID(ctx context.Context, id string) (*models.Appeal, error) {
	const query = `SELECT id, course_id, degree_course_id, professor_id, description, date, created_at FROM appeals WHERE id = $1`
	var appeal models.Appeal
	if err := r.db.GetContext(ctx, &appeal, query, id); err != nil {
		return nil, err
	}
	return &appeal, nil
}

// FindDetailByID returns an appeal with directory context.
func (r *AppealRepository) FindDetailByID(ctx context.Context, id string) (*models.AppealDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE a.id = $1", appealDetailColumns, appealDetailJoins)
	var detail models.AppealDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListAvailableForStudent returns appeals for courses in the student's study
// plan that the student has not booked yet.
func (r *AppealRepository) ListAvailableForStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s
        WHERE a.course_id IN (SELECT sp.course_id FROM study_plans sp WHERE sp.student_id = $1)
          AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.appeal_id = a.id AND b.student_id = $1)
        ORDER BY a.date ASC`, appealDetailColumns, appealDetailJoins)
	var appeals []models.AppealDetail
	if err := r.db.SelectContext(ctx, &appeals, query, studentID); err != nil {
		return nil, fmt.Errorf("list available appeals: %w", err)
	}
	return appeals, nil
}

// ListBookedByStudent returns appeals the student holds a booking for.
func (r *AppealRepository) ListBookedByStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s
        JOIN bookings b ON b.appeal_id = a.id AND b.student_id = $1
        ORDER BY a.date ASC`, appealDetailColumns, appealDetailJoins)
	var appeals []models.AppealDetail
	if err := r.db.SelectContext(ctx, &appeals, query, studentID); err != nil {
		return nil, fmt.Errorf("list booked appeals: %w", err)
	}
	return appeals, nil
}

// ListByProfessor returns appeals owned by the professor.
func (r *AppealRepository) ListByProfessor(ctx context.Context, professorID string) ([]models.AppealDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE a.professor_id = $1 ORDER BY a.date DESC`, appealDetailColumns, appealDetailJoins)
	var appeals []models.AppealDetail
	if err := r.db.SelectContext(ctx, &appeals, query, professorID); err != nil {
		return nil, fmt.Errorf("list professor appeals: %w", err)
	}
	return appeals, nil
}

// Delete removes an appeal and its bookings in one transaction. The FOR UPDATE
// lock on the appeal row serializes against OutcomeRepository.Create, which
// share-locks the same row, so the outcomes check below cannot miss an insert
// that commits concurrently and outcomes are never orphaned.
func (r *AppealRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete appeal: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	if err := tx.GetContext(ctx, &locked, "SELECT id FROM appeals WHERE id = $1 FOR UPDATE", id); err != nil {
		return err
	}

	var hasOutcomes bool
	if err := tx.GetContext(ctx, &hasOutcomes, "SELECT EXISTS (SELECT 1 FROM outcomes WHERE appeal_id = $1)", id); err != nil {
		return fmt.Errorf("check appeal outcomes: %w", err)
	}
	if hasOutcomes {
		return ErrOutcomesExist
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM bookings WHERE appeal_id = $1", id); err != nil {
		return fmt.Errorf("delete appeal bookings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM appeals WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete appeal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete appeal: %w", err)
	}
	return nil
}
