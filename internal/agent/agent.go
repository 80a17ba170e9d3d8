// Package agent wraps a single Actor or Critic call with per-attempt timeouts,
// output parsing, retries and exponential backoff.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/llm"
	"github.com/metalagman/duet/internal/metrics"
	"github.com/metalagman/duet/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Role names an agent.
type Role string

const (
	RoleActor  Role = "actor"
	RoleCritic Role = "critic"
)

// ErrCallTimeout reports that one attempt exceeded its own timeout while the
// caller's context was still alive.
var ErrCallTimeout = errors.New("call timed out")

// backoffUnit scales BackoffBase^attempt into a wait.
var backoffUnit = time.Second

// CallError is returned when every attempt failed, or when a failure was
// not worth retrying.
type CallError struct {
	Role     Role
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed after %d attempt(s): %v", e.Role, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Call describes one logical agent call.
type Call[T any] struct {
	Role              Role
	SystemInstruction string
	Context           string
	Temperature       float64
	MaxTokens         int
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout     time.Duration
	MaxAttempts int
	// BackoffBase is raised to the 0-based attempt number to get the wait
	// in seconds before the next attempt. Zero retries immediately.
	BackoffBase  float64
	OutputSchema string
	Parse        func(text string) (T, error)
}

// Outcome is a successful call result.
type Outcome[T any] struct {
	Value T
	// Duration is the wall time of the whole call, retries and waits included.
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Attempts     int
	FinishReason string
}

// Invoke runs call against gen until a parsed value is produced or attempts
// run out. Tokens of every attempt that reached the backend are counted.
//
// Errors: *CallError on exhaustion or non-retryable backend failure; the
// wrapped context error when ctx is done.
func Invoke[T any](ctx context.Context, gen llm.Generator, call Call[T]) (Outcome[T], error) {
	var out Outcome[T]
	if gen == nil {
		return out, errors.New("agent: nil generator")
	}
	if call.Parse == nil {
		return out, errors.New("agent: nil parse function")
	}
	maxAttempts := max(call.MaxAttempts, 1)

	ctx, span := tracing.Start(ctx, "agent."+string(call.Role),
		attribute.String("role", string(call.Role)),
		attribute.Int("max_attempts", maxAttempts),
	)
	defer span.End()

	start := time.Now()
	finish := func() {
		out.Duration = time.Since(start)
		metrics.RecordCall(string(call.Role), out.Duration, out.InputTokens, out.OutputTokens)
		span.SetAttributes(
			attribute.Int("attempts", out.Attempts),
			attribute.Int("tokens_in", out.InputTokens),
			attribute.Int("tokens_out", out.OutputTokens),
		)
	}

	req := llm.Request{
		System:       call.SystemInstruction,
		User:         call.Context,
		Temperature:  call.Temperature,
		MaxTokens:    call.MaxTokens,
		OutputSchema: call.OutputSchema,
	}

	var lastErr error
	for attempt := range maxAttempts {
		out.Attempts = attempt + 1

		value, resp, err := attemptOnce(ctx, gen, req, call)
		if resp != nil {
			out.InputTokens += resp.InputTokens
			out.OutputTokens += resp.OutputTokens
			out.FinishReason = resp.FinishReason
		}
		if err == nil {
			out.Value = value
			metrics.RecordAttempt(string(call.Role), metrics.OutcomeSuccess)
			finish()
			log.Debug().
				Str("role", string(call.Role)).
				Int("attempts", out.Attempts).
				Int("tokens_in", out.InputTokens).
				Int("tokens_out", out.OutputTokens).
				Dur("duration", out.Duration).
				Msg("agent call succeeded")
			return out, nil
		}

		if ctx.Err() != nil {
			metrics.RecordAttempt(string(call.Role), metrics.OutcomeCancelled)
			finish()
			span.SetStatus(codes.Error, "context done")
			return out, fmt.Errorf("%s call: %w", call.Role, ctx.Err())
		}

		reason := classify(err)
		metrics.RecordAttempt(string(call.Role), reason)
		lastErr = err

		if reason == metrics.OutcomeFatal {
			log.Error().Err(err).Str("role", string(call.Role)).Int("attempt", out.Attempts).Msg("agent call failed, not retrying")
			break
		}
		if out.Attempts == maxAttempts {
			break
		}

		wait := backoff(call.BackoffBase, attempt)
		metrics.RecordRetry(string(call.Role), reason)
		log.Warn().
			Err(err).
			Str("role", string(call.Role)).
			Int("attempt", out.Attempts).
			Int("max_attempts", maxAttempts).
			Str("reason", reason).
			Dur("backoff", wait).
			Msg("agent call failed, retrying")

		if err := sleep(ctx, wait); err != nil {
			finish()
			span.SetStatus(codes.Error, "context done")
			return out, fmt.Errorf("%s call: %w", call.Role, err)
		}
	}

	finish()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "attempts exhausted")
	return out, &CallError{Role: call.Role, Attempts: out.Attempts, Err: lastErr}
}

func attemptOnce[T any](ctx context.Context, gen llm.Generator, req llm.Request, call Call[T]) (T, *llm.Response, error) {
	var zero T

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if call.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, call.Timeout)
	}
	resp, err := gen.Generate(attemptCtx, req)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if timedOut {
		return zero, resp, fmt.Errorf("%w after %s", ErrCallTimeout, call.Timeout)
	}
	if err != nil {
		return zero, resp, err
	}
	if resp == nil {
		return zero, nil, errors.New("generator returned no response")
	}

	value, err := call.Parse(resp.Text)
	if err != nil {
		return zero, resp, err
	}
	return value, resp, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrCallTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, contract.ErrMalformedOutput):
		return metrics.OutcomeMalformed
	case errors.Is(err, contract.ErrSchemaViolation):
		return metrics.OutcomeSchema
	case llm.IsFatal(err):
		return metrics.OutcomeFatal
	default:
		return metrics.OutcomeError
	}
}

// backoff returns base^attempt seconds. A zero base disables waiting.
func backoff(base float64, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if base < 1 {
		base = 1
	}
	return time.Duration(math.Pow(base, float64(attempt)) * float64(backoffUnit))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
