// Package engine runs the Actor/Critic refinement loop that converges a
// natural-language request into an approved Plan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/duet/internal/agent"
	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/llm"
	"github.com/metalagman/duet/internal/metrics"
	"github.com/metalagman/duet/internal/prompt"
	"github.com/metalagman/duet/internal/reference"
	"github.com/metalagman/duet/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEmptyRequest is returned by Execute for a blank request.
var ErrEmptyRequest = errors.New("request is empty")

// AgentSettings tunes one agent's calls.
type AgentSettings struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Options configure an Engine.
type Options struct {
	Actor  AgentSettings
	Critic AgentSettings
	// MaxIterations bounds the number of Critic evaluations.
	MaxIterations int
	// MaxAttempts bounds attempts per agent call.
	MaxAttempts int
	BackoffBase float64
	// RequestTimeout bounds a whole Execute call. Zero relies on ctx alone.
	RequestTimeout time.Duration
	Observer       Observer

	// ActorInstruction and CriticInstruction override the built-in system
	// instructions when set.
	ActorInstruction  string
	CriticInstruction string
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		Actor:         AgentSettings{Temperature: 0.4, MaxTokens: 4096, Timeout: 60 * time.Second},
		Critic:        AgentSettings{Temperature: 0.2, MaxTokens: 2048, Timeout: 30 * time.Second},
		MaxIterations: 1,
		MaxAttempts:   3,
		BackoffBase:   2,
	}
}

// Engine is immutable after New and safe for concurrent Execute calls,
// provided the Generator is.
type Engine struct {
	gen  llm.Generator
	ref  reference.Set
	opts Options
}

// New validates opts and returns an Engine.
func New(gen llm.Generator, ref reference.Set, opts Options) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("engine: generator is required")
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.ActorInstruction == "" {
		opts.ActorInstruction = prompt.ActorInstruction
	}
	if opts.CriticInstruction == "" {
		opts.CriticInstruction = prompt.CriticInstruction
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	ref.Examples = append([]string(nil), ref.Examples...)
	return &Engine{gen: gen, ref: ref, opts: opts}, nil
}

func (o Options) validate() error {
	var errs []error
	if o.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max iterations must be at least 1, got %d", o.MaxIterations))
	}
	if o.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts))
	}
	if o.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("backoff base must not be negative, got %g", o.BackoffBase))
	}
	errs = append(errs, o.Actor.validate("actor")...)
	errs = append(errs, o.Critic.validate("critic")...)
	return errors.Join(errs...)
}

func (s AgentSettings) validate(name string) []error {
	var errs []error
	if s.Temperature < 0 || s.Temperature > 1 {
		errs = append(errs, fmt.Errorf("%s temperature must be in [0, 1], got %g", name, s.Temperature))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s max tokens must not be negative", name))
	}
	return errs
}

// Execute refines request into a Result.
//
// A Result is returned for approval, iteration exhaustion and request
// deadline (Termination timeout). Any other failure that escapes the agent
// retry budget is returned as an error with a nil Result.
func (e *Engine) Execute(ctx context.Context, request string) (*Result, error) {
	if strings.TrimSpace(request) == "" {
		return nil, ErrEmptyRequest
	}
	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}

	r := &run{
		engine:  e,
		id:      uuid.NewString(),
		request: request,
		builder: prompt.NewBuilder(e.ref.Docs, e.ref.Examples),
		state:   StateInit,
		start:   time.Now(),
		obsCtx:  context.WithoutCancel(ctx),
	}

	ctx, span := tracing.Start(ctx, "engine.execute",
		attribute.String("run_id", r.id),
		attribute.Int("max_iterations", e.opts.MaxIterations),
	)
	defer span.End()

	res, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refinement failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("termination", string(res.Termination)),
		attribute.Int("iterations", res.Iterations),
	)
	return res, nil
}

// run is the per-request state of one Execute call.
type run struct {
	engine  *Engine
	id      string
	request string
	builder *prompt.Builder
	state   State
	start   time.Time
	obsCtx  context.Context

	current      *contract.Plan
	history      []IterationRecord
	inputTokens  int
	outputTokens int
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	opts := r.engine.opts
	r.builder.Reset()
	opts.Observer.OnStart(r.obsCtx, r.id, r.request)
	log.Info().Str("run_id", r.id).Int("max_iterations", opts.MaxIterations).Msg("refinement started")

	r.transition(StateGenerating)
	actorStats, err := r.generate(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}

	for i := range opts.MaxIterations {
		r.transition(StateEvaluating)
		critique, criticStats, err := r.evaluate(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}

		rec := IterationRecord{
			Iteration: i + 1,
			Plan:      r.current,
			Critique:  critique,
			Actor:     actorStats,
			Critic:    criticStats,
			Timestamp: time.Now(),
		}
		r.history = append(r.history, rec)
		opts.Observer.OnIteration(r.obsCtx, r.id, rec)

		log.Info().
			Str("run_id", r.id).
			Int("iteration", i+1).
			Str("decision", string(critique.Decision)).
			Int("issues", critique.IssueCount()).
			Msg("plan evaluated")

		if critique.Approved() {
			return r.finish(TerminationApproved, r.current, i+1), nil
		}
		if i == opts.MaxIterations-1 {
			break
		}

		r.transition(StateRevising)
		r.builder.Update(r.current, critique)

		r.transition(StateGenerating)
		if actorStats, err = r.generate(ctx); err != nil {
			return r.fail(ctx, err)
		}
	}

	log.Warn().Str("run_id", r.id).Int("iterations", opts.MaxIterations).Msg("iteration budget exhausted, returning best effort plan")
	return r.finish(TerminationMaxIterations, r.current, opts.MaxIterations), nil
}

func (r *run) generate(ctx context.Context) (CallStats, error) {
	opts := r.engine.opts
	text, err := r.builder.BuildGenerationContext(r.request)
	if err != nil {
		return CallStats{}, err
	}
	out, err := agent.Invoke(ctx, r.engine.gen, agent.Call[*contract.Plan]{
		Role:              agent.RoleActor,
		SystemInstruction: opts.ActorInstruction,
		Context:           text,
		Temperature:       opts.Actor.Temperature,
		MaxTokens:         opts.Actor.MaxTokens,
		Timeout:           opts.Actor.Timeout,
		MaxAttempts:       opts.MaxAttempts,
		BackoffBase:       opts.BackoffBase,
		OutputSchema:      contract.PlanSchema,
		Parse:             contract.ParsePlan,
	})
	r.addTokens(out.InputTokens, out.OutputTokens)
	if err != nil {
		return CallStats{}, err
	}
	r.current = out.Value
	return statsOf(out), nil
}

func (r *run) evaluate(ctx context.Context) (*contract.Critique, CallStats, error) {
	opts := r.engine.opts
	text, err := r.builder.BuildEvaluationContext(r.current, r.request)
	if err != nil {
		return nil, CallStats{}, err
	}
	out, err := agent.Invoke(ctx, r.engine.gen, agent.Call[*contract.Critique]{
		Role:              agent.RoleCritic,
		SystemInstruction: opts.CriticInstruction,
		Context:           text,
		Temperature:       opts.Critic.Temperature,
		MaxTokens:         opts.Critic.MaxTokens,
		Timeout:           opts.Critic.Timeout,
		MaxAttempts:       opts.MaxAttempts,
		BackoffBase:       opts.BackoffBase,
		OutputSchema:      contract.CritiqueSchema,
		Parse:             contract.ParseCritique,
	})
	r.addTokens(out.InputTokens, out.OutputTokens)
	if err != nil {
		return nil, CallStats{}, err
	}
	return out.Value, statsOf(out), nil
}

// fail converts a request deadline into a timeout Result and returns any
// other error unchanged in meaning.
func (r *run) fail(ctx context.Context, err error) (*Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		plan := r.current
		if plan == nil {
			plan = contract.ErrorPlaceholderPlan()
		}
		log.Warn().Err(err).Str("run_id", r.id).Int("iterations", len(r.history)).Msg("request deadline exceeded")
		return r.finish(TerminationTimeout, plan, len(r.history)), nil
	}

	r.transition(StateDone)
	metrics.RecordRefinement(string(TerminationError), len(r.history), time.Since(r.start))
	r.engine.opts.Observer.OnError(r.obsCtx, r.id, err)
	log.Error().Err(err).Str("run_id", r.id).Str("state", string(r.state)).Msg("refinement failed")
	return nil, fmt.Errorf("refine request: %w", err)
}

func (r *run) finish(reason Termination, plan *contract.Plan, iterations int) *Result {
	r.transition(StateDone)
	res := &Result{
		RunID:        r.id,
		Request:      r.request,
		FinalPlan:    plan,
		Termination:  reason,
		Success:      reason == TerminationApproved,
		Iterations:   iterations,
		History:      append([]IterationRecord{}, r.history...),
		Duration:     time.Since(r.start),
		InputTokens:  r.inputTokens,
		OutputTokens: r.outputTokens,
	}
	metrics.RecordRefinement(string(reason), iterations, res.Duration)
	r.engine.opts.Observer.OnResult(r.obsCtx, res)
	log.Info().
		Str("run_id", r.id).
		Str("termination", string(reason)).
		Int("iterations", iterations).
		Int("tokens_in", r.inputTokens).
		Int("tokens_out", r.outputTokens).
		Dur("duration", res.Duration).
		Msg("refinement finished")
	return res
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	log.Debug().Str("run_id", r.id).Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	r.engine.opts.Observer.OnTransition(r.obsCtx, r.id, from, to)
}

func (r *run) addTokens(in, out int) {
	r.inputTokens += in
	r.outputTokens += out
}

func statsOf[T any](out agent.Outcome[T]) CallStats {
	return CallStats{
		Duration:     out.Duration,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Attempts:     out.Attempts,
	}
}
