// Package retry makes read-style calls self-healing against the transient
// failures typical of browser-automation backends: navigation races,
// timeouts and dropped connections.
package retry

import (
	"context"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"taskhub/internal/clock"
	"taskhub/internal/metrics"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 10 * time.Second
)

// Policy controls Do. Start from DefaultPolicy and override fields; zero
// delays fall back to the defaults, and a MaxDelay below InitialDelay is
// raised to InitialDelay.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means DefaultRetryable.
	Retryable func(error) bool

	// Name labels log lines and metrics.
	Name   string
	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultPolicy returns 3 retries starting at 1s, doubling up to 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Retryable:    DefaultRetryable,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return p
}

// Backoff returns the delay schedule for p: InitialDelay doubling on each
// retry, capped at MaxDelay, stopping after MaxRetries delays.
func (p Policy) Backoff() goretry.Backoff {
	p = p.normalized()
	b := goretry.NewExponential(p.InitialDelay)
	b = goretry.WithCappedDuration(p.MaxDelay, b)
	return goretry.WithMaxRetries(uint64(p.MaxRetries), b)
}

// Do runs op, retrying retryable failures according to p. It makes at most
// MaxRetries+1 attempts. When op fails with a non-retryable error, or the
// budget is spent, the error op returned is handed back unchanged so callers
// can keep inspecting it with errors.As.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	backoff := p.Backoff()

	attempt := 0
	for {
		attempt++
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		if !p.Retryable(err) {
			return val, err
		}
		delay, stop := backoff.Next()
		if stop {
			p.logWarn(ctx, "retry_exhausted", "op", p.Name, "attempts", attempt, "error", err)
			return val, err
		}
		if ctx.Err() != nil {
			return val, err
		}

		metrics.RecordRetry(p.Name)
		p.logInfo(ctx, "retry_scheduled",
			"op", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxRetries+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		if sleepErr := p.Clock.Sleep(ctx, delay); sleepErr != nil {
			p.logWarn(ctx, "retry_cancelled", "op", p.Name, "attempt", attempt, "ctx_err", sleepErr)
			return val, err
		}
	}
}

func (p Policy) logInfo(ctx context.Context, msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, msg, args...)
	}
}

func (p Policy) logWarn(ctx context.Context, msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.WarnContext(ctx, msg, args...)
	}
}
