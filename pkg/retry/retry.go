package retry

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
)

// Config bounds the retry behaviour applied to mutating storage calls.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Writer re-runs a write a bounded number of times when the storage layer
// reports a transient fault. Deterministic domain errors pass through
// untouched on the first attempt.
type Writer struct {
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewWriter builds a Writer from config, falling back to 3 attempts with a
// one second pause.
func NewWriter(cfg Config, logger *zap.Logger) *Writer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{maxAttempts: cfg.MaxAttempts, backoff: cfg.Backoff, logger: logger}
}

// Do executes op, retrying on transient failures. After the final attempt the
// last error is surfaced as a DATA_ACCESS_ERROR.
func (w *Writer) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
		lastErr = err
		if attempt == w.maxAttempts {
			break
		}
		w.logger.Sugar().Warnw("write failed, retrying",
			"op", name, "attempt", attempt, "error", err)

		timer := time.NewTimer(w.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return appErrors.Wrap(ctx.Err(), appErrors.ErrDataAccess.Code, appErrors.ErrDataAccess.Status, "write aborted")
		case <-timer.C:
		}
	}
	w.logger.Sugar().Errorw("write failed after retries", "op", name, "attempts", w.maxAttempts, "error", lastErr)
	return appErrors.Wrap(lastErr, appErrors.ErrDataAccess.Code, appErrors.ErrDataAccess.Status, "storage unavailable")
}

// Transient classifies err as a retryable infrastructure fault. Only faults
// known to clear on their own qualify; everything else, domain errors and
// storage sentinels included, is deterministic and fails fast.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if appErrors.IsDomain(err) {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 23 covers integrity violations, class 22 bad data. Both are
		// stable across retries. Connection (08), resource (53, 57) and
		// deadlock/serialization (40) classes are worth another attempt.
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		default:
			return false
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
