package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotStarted is returned when enqueueing before Start or after Stop.
var ErrNotStarted = errors.New("dispatch queue not started")

// Notification is the unit of work the dispatch queue delivers: one message
// for one student, tied to the outcome that produced it.
type Notification struct {
	OutcomeID string
	StudentID string
	Message   string
}

// Handler delivers a single notification.
type Handler func(context.Context, Notification) error

// QueueConfig configures the dispatch worker pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// delivery carries a notification through the channel together with how many
// times it already failed.
type delivery struct {
	notification Notification
	attempt      int
}

// Queue fans notifications out to a pool of goroutine workers so delivery
// happens off the recording request path. Failed deliveries are re-enqueued a
// bounded number of times after a fixed delay, then dropped with a log line;
// the durable notification row is written by the handler, so a drop here only
// costs the real-time push.
type Queue struct {
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	deliveries chan delivery
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

// NewQueue builds the dispatch queue around a delivery handler.
func NewQueue(handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		deliveries: make(chan delivery, cfg.BufferSize),
	}
}

// Start launches the workers. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("dispatch queue started", "workers", q.workers)
}

// Stop cancels the workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("dispatch queue stopped")
}

// Enqueue hands a notification to the workers.
func (q *Queue) Enqueue(n Notification) error {
	return q.push(delivery{notification: n})
}

func (q *Queue) push(d delivery) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.deliveries <- d:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case d := <-q.deliveries:
			if err := q.handler(q.ctx, d.notification); err != nil {
				q.redeliver(d, err)
			}
		}
	}
}

func (q *Queue) redeliver(d delivery, err error) {
	d.attempt++
	log := q.logger.Sugar().With(
		"outcome_id", d.notification.OutcomeID,
		"student_id", d.notification.StudentID,
		"attempt", d.attempt,
	)
	if d.attempt > q.maxRetries {
		log.Errorw("dropping notification after repeated failures", "error", err)
		return
	}
	log.Warnw("notification delivery failed, retrying", "error", err)

	go func() {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.push(d); err != nil {
				log.Errorw("failed to requeue notification", "error", err)
			}
		}
	}()
}
