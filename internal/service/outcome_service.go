package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/repository"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/jobs"
	"github.com/aulaweb/appeals-api/pkg/retry"
)

type outcomeRepository interface {
	Create(ctx context.Context, outcome *models.Outcome) error
	FindByID(ctx context.Context, id string) (*models.Outcome, error)
	FindByAppealAndStudent(ctx context.Context, appealID, studentID string) (*models.Outcome, error)
	ListDetailByAppeal(ctx context.Context, appealID string) ([]models.OutcomeDetail, error)
	MarkAccepted(ctx context.Context, id string) (bool, error)
}

type outcomeAppealReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.AppealDetail, error)
}

type notificationEnqueuer interface {
	Enqueue(n jobs.Notification) error
}

// RecordOutcomeRequest describes an outcome recording payload.
type RecordOutcomeRequest struct {
	AppealID   string `json:"appeal_id" validate:"required"`
	StudentID  string `json:"student_id" validate:"required"`
	Present    bool   `json:"present"`
	Grade      int    `json:"grade"`
	WithHonors bool   `json:"with_honors"`
	Message    string `json:"message"`
}

// OutcomeService records per-student examination outcomes and hands the
// student-facing notification to the dispatch queue.
type OutcomeService struct {
	repo      outcomeRepository
	appeals   outcomeAppealReader
	queue     notificationEnqueuer
	writer    *retry.Writer
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewOutcomeService constructs OutcomeService.
func NewOutcomeService(repo outcomeRepository, appeals outcomeAppealReader, queue notificationEnqueuer, writer *retry.Writer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *OutcomeService {
	if validate == nil {
		validate = validator.New()
	}
	if writer == nil {
		writer = retry.NewWriter(retry.Config{}, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeService{repo: repo, appeals: appeals, queue: queue, writer: writer, validator: validate, metrics: metrics, logger: logger}
}

// Record creates the one outcome allowed per (appeal, student) pair.
// Recording is a one-shot event, not an upsert: a second call for the same
// pair fails with CONFLICT. Honors on a grade below full marks are coerced
// off rather than rejected. Only the appeal's owning professor may record;
// an empty recordedBy skips the ownership check for administrative callers.
func (s *OutcomeService) Record(ctx context.Context, recordedBy string, req RecordOutcomeRequest) (*models.Outcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid outcome payload")
	}

	appeal, err := s.appeals.FindDetailByID(ctx, req.AppealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	if recordedBy != "" && appeal.ProfessorID != recordedBy {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "appeal belongs to another professor")
	}

	if req.Grade < 0 || req.Grade > models.MaxGrade {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grade must be between 0 and %d", models.MaxGrade))
	}

	withHonors := req.WithHonors
	if withHonors && req.Grade != models.MaxGrade {
		s.logger.Sugar().Debugw("coercing honors off non-maximum grade", "appeal_id", req.AppealID, "student_id", req.StudentID, "grade", req.Grade)
		withHonors = false
	}

	outcome := &models.Outcome{
		ID:         uuid.NewString(),
		AppealID:   req.AppealID,
		StudentID:  req.StudentID,
		Present:    req.Present,
		Grade:      req.Grade,
		WithHonors: withHonors,
		Accepted:   false,
		Message:    req.Message,
	}

	err = s.writer.Do(ctx, "outcome.create", func(ctx context.Context) error {
		return s.repo.Create(ctx, outcome)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoBooking):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "student has no booking for this appeal")
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "outcome already recorded for this student")
		case errors.Is(err, sql.ErrNoRows):
			// The appeal was deleted between the detail load and the insert.
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		default:
			if isDataAccess(err) {
				s.metrics.RecordRetryExhausted()
			}
			return nil, err
		}
	}
	s.metrics.RecordOutcome()

	s.enqueueNotification(outcome, appeal.CourseName)

	return outcome, nil
}

func (s *OutcomeService) enqueueNotification(outcome *models.Outcome, courseName string) {
	if s.queue == nil {
		return
	}
	n := jobs.Notification{
		OutcomeID: outcome.ID,
		StudentID: outcome.StudentID,
		Message:   fmt.Sprintf("grade recorded for course %s", courseName),
	}
	if err := s.queue.Enqueue(n); err != nil {
		// The outcome itself is committed; the student still finds it via the
		// booked-appeals view even if this notification is lost.
		s.logger.Sugar().Errorw("failed to enqueue outcome notification", "outcome_id", outcome.ID, "error", err)
	}
}

// Accept records the student's one-way acknowledgment of their outcome.
func (s *OutcomeService) Accept(ctx context.Context, outcomeID, studentID string) (*models.Outcome, error) {
	outcome, err := s.repo.FindByID(ctx, outcomeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "outcome not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load outcome")
	}
	if outcome.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "outcome belongs to another student")
	}
	if outcome.Accepted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "outcome already accepted")
	}

	var accepted bool
	err = s.writer.Do(ctx, "outcome.accept", func(ctx context.Context) error {
		var opErr error
		accepted, opErr = s.repo.MarkAccepted(ctx, outcomeID)
		return opErr
	})
	if err != nil {
		if isDataAccess(err) {
			s.metrics.RecordRetryExhausted()
		}
		return nil, err
	}
	if !accepted {
		// Lost a race against another acceptance of the same outcome.
		return nil, appErrors.Clone(appErrors.ErrConflict, "outcome already accepted")
	}

	outcome.Accepted = true
	return outcome, nil
}

// GetForStudent returns the outcome of an appeal for the requesting student.
func (s *OutcomeService) GetForStudent(ctx context.Context, appealID, studentID string) (*models.Outcome, error) {
	outcome, err := s.repo.FindByAppealAndStudent(ctx, appealID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "outcome not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load outcome")
	}
	return outcome, nil
}
