package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aulaweb/appeals-api/internal/models"
)

// NotificationRepository handles persistence of student notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create persists a notification row.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, student_id, message, created_at, expires_at, read)
        VALUES (:id, :student_id, :message, :created_at, :expires_at, :read)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns a notification by its ID.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	const query = `SELECT id, student_id, message, created_at, expires_at, read FROM notifications WHERE id = $1`
	var notification models.Notification
	if err := r.db.GetContext(ctx, &notification, query, id); err != nil {
		return nil, err
	}
	return &notification, nil
}

// ListActive returns unread, unexpired notifications for a student, newest
// first.
func (r *NotificationRepository) ListActive(ctx context.Context, studentID string, now time.Time) ([]models.Notification, error) {
	const query = `SELECT id, student_id, message, created_at, expires_at, read
        FROM notifications
        WHERE student_id = $1 AND read = FALSE AND expires_at > $2
        ORDER BY created_at DESC`
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, studentID, now); err != nil {
		return nil, fmt.Errorf("list active notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead sets read to true. Repeating the call on an already-read row is a
// no-op success; sql.ErrNoRows is returned only when the id does not exist.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE notifications SET read = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteExpired removes every notification past its expiry watermark,
// regardless of read state. The predicate is stable, so reruns and overlapped
// runs delete nothing new and never error on already-deleted rows.
func (r *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM notifications WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications result: %w", err)
	}
	return affected, nil
}
