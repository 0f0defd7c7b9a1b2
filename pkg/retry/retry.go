// Package retry implements the coordinator's classify-then-retry policy:
// bounded exponential backoff with jitter, gated by whether the upstream
// error is transient, permanent, or unclassifiable.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"coordinatorcore/internal/coordinatorerr"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures one executeWithRetry invocation. Zero-value numeric
// fields fall back to the package defaults in DefaultPolicy; Jitter is used
// as given.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Jitter            bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         1000 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          30000 * time.Millisecond,
		Jitter:            true,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Result is what executeWithRetry returns for a single invocation.
type Result[T any] struct {
	Success      bool
	Value        T
	Err          error
	Attempts     int
	TotalElapsed time.Duration
	ErrorKind    coordinatorerr.Kind
}

// Execute runs op, retrying up to policy.MaxAttempts while the error's
// classification is retryable per coordinatorerr.Retryable (Transient,
// Unknown, XcmExecute), aborting immediately on any other kind. ctx cancellation
// aborts any pending sleep and returns the last observed error.
func Execute[T any](ctx context.Context, op func(ctx context.Context) (T, error), policy Policy) Result[T] {
	policy = policy.withDefaults()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     policy.BaseDelay,
		RandomizationFactor: 0, // jitter applied separately, per spec's ±25% uniform rule
		Multiplier:          policy.BackoffMultiplier,
		MaxInterval:         policy.MaxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	start := time.Now()
	var zero T
	var lastErr error
	var lastKind coordinatorerr.Kind

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return Result[T]{Success: true, Value: value, Attempts: attempt, TotalElapsed: time.Since(start)}
		}

		lastErr = err
		lastKind = Classify(err)

		if !coordinatorerr.Retryable(lastKind) {
			return Result[T]{Success: false, Value: zero, Err: lastErr, Attempts: attempt, TotalElapsed: time.Since(start), ErrorKind: lastKind}
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := nextDelay(b, policy)
		select {
		case <-ctx.Done():
			return Result[T]{Success: false, Value: zero, Err: lastErr, Attempts: attempt, TotalElapsed: time.Since(start), ErrorKind: lastKind}
		case <-time.After(delay):
		}
	}

	return Result[T]{Success: false, Value: zero, Err: lastErr, Attempts: policy.MaxAttempts, TotalElapsed: time.Since(start), ErrorKind: lastKind}
}

// nextDelay pulls the next exponential interval from b and applies the
// spec's ±25% uniform jitter on top, independent of backoff's own
// randomization (disabled above).
func nextDelay(b *backoff.ExponentialBackOff, policy Policy) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		d = policy.MaxDelay
	}
	if !policy.Jitter {
		return d
	}
	factor := 0.75 + rand.Float64()*0.5 // uniform in [0.75, 1.25]
	return time.Duration(math.Floor(float64(d) * factor))
}

var transientPatterns = []string{
	"nonce too low",
	"nonce-too-low",
	"replacement transaction underpriced",
	"replacement-underpriced",
	"timeout",
	"connection refused",
	"connection-refused",
	"rate limit",
	"rate-limit",
	"too many requests",
	"econnreset",
	"etimedout",
	"xcm queue full",
	"queue-full",
	"weight exceeded",
	"weight-exceeded",
	"502",
	"503",
	"504",
}

var permanentPatterns = []string{
	"insufficient balance",
	"insufficient-balance",
	"execution reverted",
	"invalid signature",
	"invalid-signature",
	"not authorized",
	"not-authorized",
	"paused",
	"position not active",
	"position-not-active",
	"token not supported",
	"token-not-supported",
	"invalid destination",
	"invalid-destination",
	"slippage",
}

// Classify extracts the deepest meaningful message from a nested error
// (coordinatorerr already classified errors are respected as-is) and maps
// it onto Transient/Permanent/Unknown per the known pattern lists.
func Classify(err error) coordinatorerr.Kind {
	if err == nil {
		return coordinatorerr.KindUnknown
	}
	if k := coordinatorerr.KindOf(err); k != coordinatorerr.KindUnknown {
		return k
	}

	msg := strings.ToLower(deepestMessage(err))
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return coordinatorerr.KindPermanentRemote
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return coordinatorerr.KindTransientRemote
		}
	}
	return coordinatorerr.KindUnknown
}

// deepestMessage unwraps err as far as Go's error chain goes and returns
// the innermost message, matching the behavior of walking nested `reason`
// / `error.message` / `data.message` wrapper fields in looser-typed chain
// client SDKs.
func deepestMessage(err error) string {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err.Error()
		}
		next := u.Unwrap()
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
