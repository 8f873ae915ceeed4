package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
	"github.com/aulaweb/appeals-api/pkg/jobs"
)

type mockNotificationRepo struct {
	mu          sync.Mutex
	createErr   error
	markReadErr error
	stored      *models.Notification
	active      []models.Notification
	created     []*models.Notification
	marked      []string
}

func (m *mockNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	if m.createErr != nil {
		return m.createErr
	}
	notification.ID = "notif-1"
	m.mu.Lock()
	m.created = append(m.created, notification)
	m.mu.Unlock()
	return nil
}

func (m *mockNotificationRepo) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockNotificationRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored != nil && m.stored.ID == id {
		return m.stored, nil
	}
	for _, n := range m.created {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockNotificationRepo) ListActive(ctx context.Context, studentID string, now time.Time) ([]models.Notification, error) {
	return m.active, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string) error {
	if m.markReadErr != nil {
		return m.markReadErr
	}
	m.marked = append(m.marked, id)
	return nil
}

type mockPublisher struct {
	events []models.NotificationEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func TestNotificationServiceNotifyPersistsThenPublishes(t *testing.T) {
	repo := &mockNotificationRepo{}
	pub := &mockPublisher{}
	svc := NewNotificationService(repo, pub, testWriter(), 72*time.Hour, nil, zap.NewNop())

	notification, err := svc.Notify(context.Background(), "student-1", "grade recorded")
	require.NoError(t, err)
	assert.Equal(t, "notif-1", notification.ID)
	assert.Equal(t, notification.CreatedAt.Add(72*time.Hour), notification.ExpiresAt)
	assert.False(t, notification.Read)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notification.ID, pub.events[0].ID)
	assert.Equal(t, "student-1", pub.events[0].StudentID)
}

func TestNotificationServiceNotifySurvivesPublishFailure(t *testing.T) {
	repo := &mockNotificationRepo{}
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := NewNotificationService(repo, pub, testWriter(), time.Hour, nil, zap.NewNop())

	notification, err := svc.Notify(context.Background(), "student-1", "grade recorded")
	require.NoError(t, err)
	assert.NotNil(t, notification)
	assert.Len(t, repo.created, 1)
}

func TestNotificationServiceNotifySkipsPublishWhenPersistFails(t *testing.T) {
	repo := &mockNotificationRepo{createErr: errors.New("db down")}
	pub := &mockPublisher{}
	svc := NewNotificationService(repo, pub, testWriter(), time.Hour, nil, zap.NewNop())

	_, err := svc.Notify(context.Background(), "student-1", "grade recorded")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDataAccess.Code, appErrors.FromError(err).Code)
	assert.Empty(t, pub.events)
}

func TestNotificationServiceNotifyBlankFields(t *testing.T) {
	svc := NewNotificationService(&mockNotificationRepo{}, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	_, err := svc.Notify(context.Background(), "", "message")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Notify(context.Background(), "student-1", "  ")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceMarkReadIdempotent(t *testing.T) {
	repo := &mockNotificationRepo{stored: &models.Notification{ID: "notif-1", StudentID: "student-1"}}
	svc := NewNotificationService(repo, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	require.NoError(t, svc.MarkRead(context.Background(), "notif-1", "student-1"))
	require.NoError(t, svc.MarkRead(context.Background(), "notif-1", "student-1"))
	assert.Equal(t, []string{"notif-1", "notif-1"}, repo.marked)
}

func TestNotificationServiceMarkReadMissing(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := NewNotificationService(repo, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	err := svc.MarkRead(context.Background(), "missing", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceMarkReadWrongStudent(t *testing.T) {
	repo := &mockNotificationRepo{stored: &models.Notification{ID: "notif-1", StudentID: "student-1"}}
	svc := NewNotificationService(repo, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	err := svc.MarkRead(context.Background(), "notif-1", "student-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.marked)
}

func TestNotificationServiceMarkReadAdminBypass(t *testing.T) {
	repo := &mockNotificationRepo{stored: &models.Notification{ID: "notif-1", StudentID: "student-1"}}
	svc := NewNotificationService(repo, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	require.NoError(t, svc.MarkRead(context.Background(), "notif-1", ""))
	assert.Equal(t, []string{"notif-1"}, repo.marked)
}

func TestNotificationServiceMarkReadWrappedNoRows(t *testing.T) {
	// The update can report the row gone behind a wrapped sentinel; the
	// mapping must still land on NOT_FOUND.
	repo := &mockNotificationRepo{
		stored:      &models.Notification{ID: "notif-1", StudentID: "student-1"},
		markReadErr: fmt.Errorf("mark read: %w", sql.ErrNoRows),
	}
	svc := NewNotificationService(repo, &mockPublisher{}, testWriter(), time.Hour, nil, zap.NewNop())

	err := svc.MarkRead(context.Background(), "notif-1", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDispatchQueueDeliversNotification(t *testing.T) {
	repo := &mockNotificationRepo{}
	pub := &mockPublisher{}
	svc := NewNotificationService(repo, pub, testWriter(), time.Hour, nil, zap.NewNop())

	queue := NewDispatchQueue(svc, jobs.QueueConfig{Workers: 1, BufferSize: 4, Logger: zap.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	defer func() {
		cancel()
		queue.Stop()
	}()

	require.NoError(t, queue.Enqueue(jobs.Notification{
		OutcomeID: "out-1",
		StudentID: "student-1",
		Message:   "grade recorded",
	}))

	require.Eventually(t, func() bool {
		return repo.createdCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "student-1", repo.created[0].StudentID)
}
