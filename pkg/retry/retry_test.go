package retry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/aulaweb/appeals-api/pkg/errors"
)

func TestTransientClassification(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(sql.ErrNoRows))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(context.DeadlineExceeded))
	assert.False(t, Transient(appErrors.ErrConflict))
	assert.False(t, Transient(appErrors.Clone(appErrors.ErrValidation, "bad input")))
	assert.False(t, Transient(errors.New("duplicate row")))

	assert.False(t, Transient(&pq.Error{Code: "23505"}))
	assert.False(t, Transient(&pq.Error{Code: "22001"}))
	assert.True(t, Transient(&pq.Error{Code: "08006"}))
	assert.True(t, Transient(&pq.Error{Code: "40001"}))
	assert.True(t, Transient(&pq.Error{Code: "53300"}))
	assert.True(t, Transient(&pq.Error{Code: "57P01"}))
}

func TestWriterRetriesTransientThenSucceeds(t *testing.T) {
	w := NewWriter(Config{MaxAttempts: 3, Backoff: time.Millisecond}, zap.NewNop())

	calls := 0
	err := w.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: "08006"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWriterDoesNotRetryDeterministicErrors(t *testing.T) {
	w := NewWriter(Config{MaxAttempts: 3, Backoff: time.Millisecond}, zap.NewNop())

	calls := 0
	sentinel := errors.New("duplicate row")
	err := w.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestWriterExhaustionWrapsAsDataAccess(t *testing.T) {
	w := NewWriter(Config{MaxAttempts: 3, Backoff: time.Millisecond}, zap.NewNop())

	calls := 0
	err := w.Do(context.Background(), "test.op", func(ctx context.Context) error {
		calls++
		return &pq.Error{Code: "08006"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, appErrors.ErrDataAccess.Code, appErrors.FromError(err).Code)
}

func TestWriterStopsOnContextCancel(t *testing.T) {
	w := NewWriter(Config{MaxAttempts: 3, Backoff: 50 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := w.Do(ctx, "test.op", func(ctx context.Context) error {
		calls++
		return &pq.Error{Code: "08006"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, appErrors.ErrDataAccess.Code, appErrors.FromError(err).Code)
}

func TestWriterDefaults(t *testing.T) {
	w := NewWriter(Config{}, nil)
	assert.Equal(t, 3, w.maxAttempts)
	assert.Equal(t, time.Second, w.backoff)
}
