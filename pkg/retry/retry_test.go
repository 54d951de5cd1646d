package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Millisecond, 2 * time.Millisecond},
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	p := fastPolicy()
	p.IsRetryable = func(error) bool { return false }
	calls := 0
	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Backoff: []time.Duration{time.Hour}}
	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.backoff(7))
	assert.False(t, p.IsRetryable(context.Canceled))
	assert.True(t, p.IsRetryable(errors.New("timeout")))
}
