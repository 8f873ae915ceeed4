package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/realtime"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/jobs"
	"github.com/aulaweb/appeals-api/pkg/retry"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	ListActive(ctx context.Context, studentID string, now time.Time) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// NotificationService persists student notifications and pushes best-effort
// real-time events. The persisted row is written first; a failed publish
// never fails the call, and nothing is published without a committed row.
type NotificationService struct {
	repo      notificationRepository
	publisher realtime.Publisher
	writer    *retry.Writer
	window    time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationService constructs the service. window bounds the lifetime
// of each notification and must be positive; the 72h default applies
// otherwise.
func NewNotificationService(repo notificationRepository, publisher realtime.Publisher, writer *retry.Writer, window time.Duration, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	if writer == nil {
		writer = retry.NewWriter(retry.Config{}, logger)
	}
	if window <= 0 {
		window = 72 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
		writer:    writer,
		window:    window,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify stores a durable notification for the student and then publishes a
// real-time event. The publish step is fire-and-forget.
func (s *NotificationService) Notify(ctx context.Context, studentID, message string) (*models.Notification, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message is required")
	}

	createdAt := s.now()
	notification := &models.Notification{
		StudentID: studentID,
		Message:   message,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(s.window),
		Read:      false,
	}

	err := s.writer.Do(ctx, "notification.create", func(ctx context.Context) error {
		return s.repo.Create(ctx, notification)
	})
	if err != nil {
		if isDataAccess(err) {
			s.metrics.RecordRetryExhausted()
		}
		return nil, err
	}
	s.metrics.RecordNotificationStored()

	event := models.NotificationEvent{
		ID:        notification.ID,
		StudentID: notification.StudentID,
		Message:   notification.Message,
		CreatedAt: notification.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// The durable row is already committed; the student will pick the
		// notification up on the next ListActive poll.
		s.logger.Sugar().Warnw("real-time publish failed", "notification_id", notification.ID, "student_id", studentID, "error", err)
		s.metrics.RecordNotificationPushed(false)
	} else {
		s.metrics.RecordNotificationPushed(true)
	}

	return notification, nil
}

// ListActive returns unread, unexpired notifications, newest first.
func (s *NotificationService) ListActive(ctx context.Context, studentID string) ([]models.Notification, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	notifications, err := s.repo.ListActive(ctx, studentID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead flags a notification as read. Repeating the call is a no-op
// success. Only the owning student may mark it; an empty studentID skips the
// ownership check for administrative callers.
func (s *NotificationService) MarkRead(ctx context.Context, id, studentID string) error {
	if strings.TrimSpace(id) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "notification id is required")
	}

	notification, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if studentID != "" && notification.StudentID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "notification belongs to another student")
	}

	err = s.writer.Do(ctx, "notification.mark_read", func(ctx context.Context) error {
		return s.repo.MarkRead(ctx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Reaped between the load and the update.
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return err
	}
	return nil
}

// NewDispatchQueue builds the worker queue that delivers queued notifications
// through the service, off the recording request path.
func NewDispatchQueue(s *NotificationService, cfg jobs.QueueConfig) *jobs.Queue {
	return jobs.NewQueue(func(ctx context.Context, n jobs.Notification) error {
		_, err := s.Notify(ctx, n.StudentID, n.Message)
		if err != nil && appErrors.IsDomain(err) {
			// Malformed payloads will not heal on retry.
			s.logger.Sugar().Errorw("dropping undeliverable notification", "student_id", n.StudentID, "error", err)
			return nil
		}
		return err
	}, cfg)
}
