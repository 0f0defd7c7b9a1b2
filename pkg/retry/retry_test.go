package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"coordinatorcore/internal/coordinatorerr"

	"github.com/stretchr/testify/assert"
)

func TestExecute_RetriesOnTransientThenSucceeds(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "", errors.New("nonce too low")
		}
		return "ok", nil
	}

	policy := DefaultPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	policy.MaxAttempts = 5

	result := Execute(context.Background(), op, policy)

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, coordinatorerr.KindUnknown, result.ErrorKind)
}

func TestExecute_AbortsImmediatelyOnPermanent(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("execution reverted: slippage")
	}

	result := Execute(context.Background(), op, DefaultPolicy())

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, coordinatorerr.KindPermanentRemote, result.ErrorKind)
}

func TestExecute_CancellationAbortsSleep(t *testing.T) {
	op := func(ctx context.Context) (string, error) {
		return "", errors.New("timeout")
	}

	policy := DefaultPolicy()
	policy.MaxAttempts = 5
	policy.BaseDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := Execute(ctx, op, policy)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestClassify_UnknownIsTotal(t *testing.T) {
	assert.Equal(t, coordinatorerr.KindUnknown, Classify(errors.New("something entirely novel")))
}

func TestClassify_Idempotent(t *testing.T) {
	err := errors.New("connection refused")
	assert.Equal(t, Classify(err), Classify(err))
}

func TestParseXcmEventError(t *testing.T) {
	result := ParseXcmEventError(`{"data":{"message":"weight exceeded"}}`)
	assert.Equal(t, coordinatorerr.KindXcmExecute, result.ErrorKind)
	assert.True(t, result.ShouldRetry)

	result = ParseXcmEventError(`{"reason":"execution reverted"}`)
	assert.Equal(t, coordinatorerr.KindPermanentRemote, result.ErrorKind)
	assert.False(t, result.ShouldRetry)
}
