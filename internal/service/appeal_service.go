package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/repository"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/retry"
)

type appealRepository interface {
	Create(ctx context.Context, appeal *models.Appeal) error
	FindByID(ctx context.Context, id string) (*models.Appeal, error)
	FindDetailByID(ctx context.Context, id string) (*models.AppealDetail, error)
	ListAvailableForStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error)
	ListBookedByStudent(ctx context.Context, studentID string) ([]models.AppealDetail, error)
	ListByProfessor(ctx context.Context, professorID string) ([]models.AppealDetail, error)
	Delete(ctx context.Context, id string) error
}

type appealDirectory interface {
	CourseByID(ctx context.Context, id string) (*models.Course, error)
	ResolveCourse(ctx context.Context, name, degreeCourseName string) (*models.Course, error)
	DegreeCourseExists(ctx context.Context, id string) (bool, error)
	ProfessorExists(ctx context.Context, id string) (bool, error)
	StudentExists(ctx context.Context, id string) (bool, error)
	ProfessorTeaches(ctx context.Context, courseID, professorID string) (bool, error)
}

type appealCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateAppealRequest describes an appeal creation payload. The course can be
// referenced either by id or by its name within a degree course name.
type CreateAppealRequest struct {
	CourseID         string    `json:"course_id" validate:"required_without=CourseName"`
	CourseName       string    `json:"course_name" validate:"required_without=CourseID"`
	DegreeCourseID   string    `json:"degree_course_id" validate:"required_without=DegreeCourseName"`
	DegreeCourseName string    `json:"degree_course_name" validate:"required_with=CourseName"`
	ProfessorID      string    `json:"professor_id" validate:"required"`
	Description      string    `json:"description"`
	Date             time.Time `json:"date" validate:"required"`
}

// AppealService owns the appeal catalogue: creation, lookup and guarded
// deletion.
type AppealService struct {
	repo      appealRepository
	directory appealDirectory
	cache     appealCache
	cacheTTL  time.Duration
	writer    *retry.Writer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAppealService constructs AppealService.
func NewAppealService(repo appealRepository, directory appealDirectory, cache appealCache, cacheTTL time.Duration, writer *retry.Writer, validate *validator.Validate, logger *zap.Logger) *AppealService {
	if validate == nil {
		validate = validator.New()
	}
	if writer == nil {
		writer = retry.NewWriter(retry.Config{}, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &AppealService{repo: repo, directory: directory, cache: cache, cacheTTL: cacheTTL, writer: writer, validator: validate, logger: logger}
}

// Create publishes a new appeal. The owning professor must teach the course;
// the date is accepted as given, past dates included, since booking guards
// the calendar.
func (s *AppealService) Create(ctx context.Context, req CreateAppealRequest) (*models.AppealDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appeal payload")
	}

	course, err := s.resolveCourse(ctx, req)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve course")
	}
	degreeCourseID := req.DegreeCourseID
	if degreeCourseID == "" {
		degreeCourseID = course.DegreeCourseID
	}
	if exists, err := s.directory.DegreeCourseExists(ctx, degreeCourseID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve degree course")
	} else if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "degree course not found")
	}
	if exists, err := s.directory.ProfessorExists(ctx, req.ProfessorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve professor")
	} else if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
	}
	teaches, err := s.directory.ProfessorTeaches(ctx, course.ID, req.ProfessorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course assignment")
	}
	if !teaches {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "professor does not teach this course")
	}

	appeal := &models.Appeal{
		CourseID:       course.ID,
		DegreeCourseID: degreeCourseID,
		ProfessorID:    req.ProfessorID,
		Description:    req.Description,
		Date:           req.Date,
	}
	err = s.writer.Do(ctx, "appeal.create", func(ctx context.Context) error {
		return s.repo.Create(ctx, appeal)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAvailableListings(ctx)

	detail, err := s.repo.FindDetailByID(ctx, appeal.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal detail")
	}
	return detail, nil
}

// Get returns an appeal with directory context.
func (s *AppealService) Get(ctx context.Context, id string) (*models.AppealDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	return detail, nil
}

// ListAvailableFor returns appeals for courses in the student's study plan
// that the student has not booked. Results are cached per student briefly.
func (s *AppealService) ListAvailableFor(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	exists, err := s.directory.StudentExists(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	key := fmt.Sprintf("appeals:available:%s", studentID)
	if s.cache != nil {
		var cached []models.AppealDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	appeals, err := s.repo.ListAvailableForStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appeals")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, appeals, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache appeal listing", "student_id", studentID, "error", err)
		}
	}
	return appeals, nil
}

// ListBookedBy returns the appeals the student is booked into.
func (s *AppealService) ListBookedBy(ctx context.Context, studentID string) ([]models.AppealDetail, error) {
	exists, err := s.directory.StudentExists(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	appeals, err := s.repo.ListBookedByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appeals")
	}
	return appeals, nil
}

// ListOwnedBy returns the appeals the professor published.
func (s *AppealService) ListOwnedBy(ctx context.Context, professorID string) ([]models.AppealDetail, error) {
	exists, err := s.directory.ProfessorExists(ctx, professorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve professor")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
	}
	appeals, err := s.repo.ListByProfessor(ctx, professorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appeals")
	}
	return appeals, nil
}

// Delete removes an appeal and its bookings. Only the owner may delete, and
// never once an outcome has been recorded.
func (s *AppealService) Delete(ctx context.Context, appealID, requestingProfessorID string) error {
	appeal, err := s.repo.FindByID(ctx, appealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	if appeal.ProfessorID != requestingProfessorID {
		return appErrors.Clone(appErrors.ErrForbidden, "appeal belongs to another professor")
	}

	err = s.writer.Do(ctx, "appeal.delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, appealID)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOutcomesExist):
			return appErrors.Clone(appErrors.ErrConflict, "appeal has recorded outcomes")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		default:
			return err
		}
	}

	s.invalidateAvailableListings(ctx)
	return nil
}

func (s *AppealService) resolveCourse(ctx context.Context, req CreateAppealRequest) (*models.Course, error) {
	if req.CourseID != "" {
		return s.directory.CourseByID(ctx, req.CourseID)
	}
	return s.directory.ResolveCourse(ctx, req.CourseName, req.DegreeCourseName)
}

func (s *AppealService) invalidateAvailableListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "appeals:available:*"); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate appeal listing cache", "error", err)
	}
}
