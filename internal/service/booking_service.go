package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/repository"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/retry"
)

type bookingRepository interface {
	Create(ctx context.Context, appealID, studentID string) (*models.Booking, error)
	Delete(ctx context.Context, appealID, studentID string) error
	Exists(ctx context.Context, appealID, studentID string) (bool, error)
	CountByAppeal(ctx context.Context, appealID string) (int, error)
}

type bookingDirectory interface {
	StudentExists(ctx context.Context, id string) (bool, error)
	StudyPlanContains(ctx context.Context, studentID, courseID string) (bool, error)
}

type bookingAppealReader interface {
	FindByID(ctx context.Context, id string) (*models.Appeal, error)
}

type listingCache interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// BookingService owns the student-appeal booking relation.
type BookingService struct {
	repo      bookingRepository
	appeals   bookingAppealReader
	directory bookingDirectory
	cache     listingCache
	writer    *retry.Writer
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewBookingService constructs BookingService.
func NewBookingService(repo bookingRepository, appeals bookingAppealReader, directory bookingDirectory, cache listingCache, writer *retry.Writer, metrics *MetricsService, logger *zap.Logger) *BookingService {
	if writer == nil {
		writer = retry.NewWriter(retry.Config{}, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{repo: repo, appeals: appeals, directory: directory, cache: cache, writer: writer, metrics: metrics, logger: logger}
}

// Book registers the student for the appeal. Concurrent calls for the same
// student resolve to exactly one winner; the loser sees CONFLICT. Booking a
// past appeal, or an appeal whose course is not in the student's study plan,
// fails with INVALID_STATE.
func (s *BookingService) Book(ctx context.Context, appealID, studentID string) (*models.Booking, error) {
	if strings.TrimSpace(appealID) == "" || strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appeal id and student id are required")
	}

	exists, err := s.directory.StudentExists(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	appeal, err := s.appeals.FindByID(ctx, appealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	inPlan, err := s.directory.StudyPlanContains(ctx, studentID, appeal.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check study plan")
	}
	if !inPlan {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "course is not in the student's study plan")
	}

	var booking *models.Booking
	err = s.writer.Do(ctx, "booking.create", func(ctx context.Context) error {
		var opErr error
		booking, opErr = s.repo.Create(ctx, appealID, studentID)
		return opErr
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		case errors.Is(err, repository.ErrAppealClosed):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal date has passed")
		case errors.Is(err, repository.ErrDuplicate):
			s.metrics.RecordBooking(true)
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already booked for this appeal")
		default:
			if isDataAccess(err) {
				s.metrics.RecordRetryExhausted()
			}
			return nil, err
		}
	}
	s.metrics.RecordBooking(false)

	s.invalidateListings(ctx, studentID)
	return booking, nil
}

// Unbook removes the student's booking. Absence is an error so stale clients
// learn their view is outdated.
func (s *BookingService) Unbook(ctx context.Context, appealID, studentID string) error {
	if strings.TrimSpace(appealID) == "" || strings.TrimSpace(studentID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "appeal id and student id are required")
	}

	err := s.writer.Do(ctx, "booking.delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, appealID, studentID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		if isDataAccess(err) {
			s.metrics.RecordRetryExhausted()
		}
		return err
	}

	s.invalidateListings(ctx, studentID)
	return nil
}

// IsBooked reports whether the student holds a booking for the appeal.
func (s *BookingService) IsBooked(ctx context.Context, appealID, studentID string) (bool, error) {
	booked, err := s.repo.Exists(ctx, appealID, studentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check booking")
	}
	return booked, nil
}

// Count returns the number of bookings on an appeal.
func (s *BookingService) Count(ctx context.Context, appealID string) (int, error) {
	count, err := s.repo.CountByAppeal(ctx, appealID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count bookings")
	}
	return count, nil
}

func (s *BookingService) invalidateListings(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("appeals:available:%s", studentID)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate appeal listing cache", "student_id", studentID, "error", err)
	}
}
