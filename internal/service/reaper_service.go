package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredNotificationStore interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReaperService deletes expired notifications on a schedule. Each pass uses
// the current time as the cutoff, so reruns over the same data remove
// nothing extra.
type ReaperService struct {
	repo     expiredNotificationStore
	interval time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewReaperService constructs ReaperService.
func NewReaperService(repo expiredNotificationStore, interval time.Duration, metrics *MetricsService, logger *zap.Logger) *ReaperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReaperService{
		repo:     repo,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single reaping pass and returns the number of rows removed.
func (s *ReaperService) Run(ctx context.Context) (int64, error) {
	cutoff := s.now()
	removed, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.logger.Sugar().Warnw("notification reaping pass failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		s.logger.Sugar().Infow("reaped expired notifications", "removed", removed, "cutoff", cutoff)
	}
	s.metrics.AddNotificationsReaped(removed)
	return removed, nil
}

// Start boots a goroutine that reaps periodically until ctx is cancelled.
func (s *ReaperService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Run(ctx)
			}
		}
	}()
}
