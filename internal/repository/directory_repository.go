package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aulaweb/appeals-api/internal/models"
)

// DirectoryRepository exposes the read-only lookups the appeal workflows
// consume from the course/student/professor directory tables.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// CourseByID returns a course row.
func (r *DirectoryRepository) CourseByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, degree_course_id FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ResolveCourse finds a course by its name within a degree course name.
func (r *DirectoryRepository) ResolveCourse(ctx context.Context, name, degreeCourseName string) (*models.Course, error) {
	const query = `SELECT c.id, c.name, c.degree_course_id
        FROM courses c
        JOIN degree_courses d ON d.id = c.degree_course_id
        WHERE c.name = $1 AND d.name = $2`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, name, degreeCourseName); err != nil {
		return nil, err
	}
	return &course, nil
}

// DegreeCourseExists reports whether the degree course exists.
func (r *DirectoryRepository) DegreeCourseExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM degree_courses WHERE id = $1)", id)
}

// ProfessorExists reports whether the professor exists.
func (r *DirectoryRepository) ProfessorExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM professors WHERE id = $1)", id)
}

// StudentExists reports whether the student exists.
func (r *DirectoryRepository) StudentExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)", id)
}

// ProfessorTeaches reports whether the professor is assigned to the course.
func (r *DirectoryRepository) ProfessorTeaches(ctx context.Context, courseID, professorID string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM professor_courses WHERE course_id = $1 AND professor_id = $2)", courseID, professorID)
}

// StudyPlanContains reports whether the course is in the student's plan.
func (r *DirectoryRepository) StudyPlanContains(ctx context.Context, studentID, courseID string) (bool, error) {
	return r.exists(ctx, "SELECT EXISTS (SELECT 1 FROM study_plans WHERE student_id = $1 AND course_id = $2)", studentID, courseID)
}

// UserByEmail returns the application user for authentication.
func (r *DirectoryRepository) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT id, email, password_hash, full_name, role, active, created_at FROM users WHERE email = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *DirectoryRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("directory lookup: %w", err)
	}
	return exists, nil
}
