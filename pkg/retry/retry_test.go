package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidrive/core/pkg/errors"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	calls := 0
	err := r.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.Transient, "timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(func() error {
		calls++
		return errors.New(errors.NotFound, "missing")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	calls := 0
	err := r.Do(func() error {
		calls++
		return errors.New(errors.Transient, "still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithContextAbortsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})
	err := r.DoWithContext(ctx, func(ctx context.Context) error {
		return errors.New(errors.Transient, "should not be called after cancel")
	})
	require.Error(t, err)
}

func TestOnRetryCallback(t *testing.T) {
	t.Parallel()

	var seenAttempts []int
	r := New(Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			seenAttempts = append(seenAttempts, attempt)
		},
	})

	_ = r.Do(func() error {
		return errors.New(errors.Transient, "fails every time")
	})

	assert.Equal(t, []int{1, 2}, seenAttempts)
}

func TestListAndTransferConfigsAreRetryable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, ListConfig().MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, ListConfig().InitialDelay)
	assert.Equal(t, 3, TransferConfig().MaxAttempts)
}
