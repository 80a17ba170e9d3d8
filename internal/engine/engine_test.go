package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metalagman/duet/internal/agent"
	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/llm"
	"github.com/metalagman/duet/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const request = "Create a mountain terrain with grass on the midlands"

func planJSON(width int) string {
	return fmt.Sprintf(`{
  "trajectory_summary": "Generate a small mountain terrain with a single landmass",
  "tool_plan": [
    {
      "step": 1,
      "objective": "Create the base landmass",
      "tool_name": "CellularAutomataGenerator",
      "arguments": {"width": %d, "height": 128},
      "expected_result": "One connected landmass"
    }
  ],
  "risks": []
}`, width)
}

const approveJSON = `{"decision": "approve", "blocking_issues": [], "missing_information": []}`

const reviseJSON = `{
  "decision": "revise",
  "blocking_issues": [
    {"step": 1, "issue": "width exceeds the documented range", "severity": "critical", "suggestion": "use a width of 128"},
    {"step": 1, "issue": "grass is requested but never placed", "severity": "major", "suggestion": "add GrassDetailModifier on layer 1"}
  ],
  "missing_information": []
}`

func testRef() reference.Set {
	return reference.Set{Docs: "CellularAutomataGenerator: width [16, 256]", Examples: []string{"example one"}}
}

func testOptions(k int) Options {
	opts := DefaultOptions()
	opts.MaxIterations = k
	opts.BackoffBase = 0
	return opts
}

func newEngine(t *testing.T, gen llm.Generator, opts Options) *Engine {
	t.Helper()
	e, err := New(gen, testRef(), opts)
	require.NoError(t, err)
	return e
}

// roleScript serves Actor and Critic from separate scripts.
type roleScript struct {
	actor  *llm.Script
	critic *llm.Script
}

func (r *roleScript) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.User, "## TRAJECTORY TO REVIEW") {
		return r.critic.Generate(ctx, req)
	}
	return r.actor.Generate(ctx, req)
}

type recorder struct {
	NopObserver
	mu          sync.Mutex
	transitions []string
	iterations  []int
	results     []*Result
	errs        []error
}

func (r *recorder) OnTransition(_ context.Context, _ string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+">"+string(to))
}

func (r *recorder) OnIteration(_ context.Context, _ string, rec IterationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations = append(r.iterations, rec.Iteration)
}

func (r *recorder) OnResult(_ context.Context, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) OnError(_ context.Context, _ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestExecute_ApprovedFirstTime(t *testing.T) {
	t.Parallel()

	gen := llm.Texts(planJSON(128), approveJSON)
	res, err := newEngine(t, gen, testOptions(1)).Execute(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, TerminationApproved, res.Termination)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.History, 1)
	assert.True(t, res.FinalCritique().Approved())
	assert.Equal(t, 1, res.History[0].Iteration)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, request, res.Request)
	assert.Equal(t, 2, gen.CallCount())
	assert.Positive(t, res.TotalTokens())
	assert.Equal(t, res.History[0].Actor.InputTokens+res.History[0].Critic.InputTokens, res.InputTokens)
}

func TestExecute_ReviseAtLastIterationKeepsInitialPlan(t *testing.T) {
	t.Parallel()

	gen := llm.Texts(planJSON(512), reviseJSON)
	res, err := newEngine(t, gen, testOptions(1)).Execute(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, TerminationMaxIterations, res.Termination)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, gen.CallCount(), "no generation after the last evaluation")

	initial, err := contract.ParsePlan(planJSON(512))
	require.NoError(t, err)
	assert.True(t, initial.Equal(res.FinalPlan))
	assert.Equal(t, 2, res.FinalCritique().IssueCount())
}

func TestExecute_ApprovedOnThirdIteration(t *testing.T) {
	t.Parallel()

	gen := &roleScript{
		actor:  llm.Texts(planJSON(512), planJSON(300), planJSON(128)),
		critic: llm.Texts(reviseJSON, reviseJSON, approveJSON),
	}
	obs := &recorder{}
	opts := testOptions(3)
	opts.Observer = obs

	res, err := newEngine(t, gen, opts).Execute(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, TerminationApproved, res.Termination)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, gen.actor.CallCount())
	assert.Equal(t, 3, gen.critic.CallCount())

	want, err := contract.ParsePlan(planJSON(128))
	require.NoError(t, err)
	assert.True(t, want.Equal(res.FinalPlan))

	actorCalls := gen.actor.Calls()
	assert.NotContains(t, actorCalls[0].User, "## REVISION CONTEXT")
	for _, c := range actorCalls[1:] {
		assert.Contains(t, c.User, "## REVISION CONTEXT")
		assert.Contains(t, c.User, "### CRITIC FEEDBACK")
		assert.Equal(t, 1, strings.Count(c.User, "### YOUR PREVIOUS TRAJECTORY"), "only the latest plan is carried")
	}
	assert.Contains(t, actorCalls[2].User, `"width": 300`)
	assert.NotContains(t, actorCalls[2].User, `"width": 512`)

	assert.Equal(t, []string{
		"init>generating",
		"generating>evaluating",
		"evaluating>revising",
		"revising>generating",
		"generating>evaluating",
		"evaluating>revising",
		"revising>generating",
		"generating>evaluating",
		"evaluating>done",
	}, obs.transitions)
	assert.Equal(t, []int{1, 2, 3}, obs.iterations)
	require.Len(t, obs.results, 1)
	assert.Same(t, res, obs.results[0])
}

func TestExecute_MaxIterationsReportsBudget(t *testing.T) {
	t.Parallel()

	gen := &roleScript{
		actor:  llm.Texts(planJSON(512), planJSON(300)),
		critic: llm.Texts(reviseJSON, reviseJSON),
	}
	res, err := newEngine(t, gen, testOptions(2)).Execute(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, TerminationMaxIterations, res.Termination)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, res.History, 2)
	assert.Equal(t, 2, gen.actor.CallCount())

	last, err := contract.ParsePlan(planJSON(300))
	require.NoError(t, err)
	assert.True(t, last.Equal(res.FinalPlan))
}

func TestExecute_ActorNeverProducesValidOutput(t *testing.T) {
	t.Parallel()

	gen := llm.Texts("here is my plan", "```json\n{not json}\n```", `{"tool_plan": []}`)
	obs := &recorder{}
	opts := testOptions(3)
	opts.MaxAttempts = 3
	opts.Observer = obs

	res, err := newEngine(t, gen, opts).Execute(context.Background(), request)
	require.Error(t, err)
	assert.Nil(t, res)

	var callErr *agent.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, agent.RoleActor, callErr.Role)
	assert.Equal(t, 3, callErr.Attempts)
	assert.True(t, contract.IsParseError(err))
	assert.ErrorIs(t, err, contract.ErrSchemaViolation)
	assert.Equal(t, 3, gen.CallCount())

	assert.Len(t, obs.errs, 1)
	assert.Empty(t, obs.results)
}

func TestExecute_ApproveWithIssuesIsRejected(t *testing.T) {
	t.Parallel()

	contradictory := `{"decision": "approve", "blocking_issues": [{"step": 1, "issue": "width exceeds range", "severity": "critical", "suggestion": "use 128 instead"}]}`
	gen := &roleScript{
		actor:  llm.Texts(planJSON(128)),
		critic: llm.Texts(contradictory),
	}
	opts := testOptions(1)
	opts.MaxAttempts = 1

	res, err := newEngine(t, gen, opts).Execute(context.Background(), request)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, contract.ErrSchemaViolation)
}

func TestExecute_FatalBackendError(t *testing.T) {
	t.Parallel()

	gen := llm.NewScript(llm.Reply{Err: llm.NewFatalError(errors.New("status 401: invalid api key"))})
	res, err := newEngine(t, gen, testOptions(1)).Execute(context.Background(), request)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 1, gen.CallCount())
}

func TestExecute_TimeoutBeforeFirstPlan(t *testing.T) {
	t.Parallel()

	gen := llm.NewScript(llm.Reply{Text: planJSON(128), Delay: 5 * time.Second})
	opts := testOptions(1)
	opts.RequestTimeout = 30 * time.Millisecond

	res, err := newEngine(t, gen, opts).Execute(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, TerminationTimeout, res.Termination)
	assert.False(t, res.Success)
	assert.Zero(t, res.Iterations)
	assert.Empty(t, res.History)
	assert.True(t, res.FinalPlan.IsErrorArtifact())
}

func TestExecute_TimeoutKeepsCurrentPlan(t *testing.T) {
	t.Parallel()

	gen := &roleScript{
		actor:  llm.Texts(planJSON(512), planJSON(128)),
		critic: llm.NewScript(llm.Reply{Text: reviseJSON}, llm.Reply{Text: approveJSON, Delay: 5 * time.Second}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := newEngine(t, gen, testOptions(3)).Execute(ctx, request)
	require.NoError(t, err)

	assert.Equal(t, TerminationTimeout, res.Termination)
	assert.Equal(t, 1, res.Iterations)
	want, err := contract.ParsePlan(planJSON(128))
	require.NoError(t, err)
	assert.True(t, want.Equal(res.FinalPlan), "the revised plan is reported even though it was never evaluated")
}

func TestExecute_CancelledIsError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine(t, llm.Texts(planJSON(128)), testOptions(1)).Execute(ctx, request)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_EmptyRequest(t *testing.T) {
	t.Parallel()

	gen := llm.Texts(planJSON(128))
	e := newEngine(t, gen, testOptions(1))
	for _, req := range []string{"", "   ", "\n\t"} {
		_, err := e.Execute(context.Background(), req)
		assert.ErrorIs(t, err, ErrEmptyRequest)
	}
	assert.Zero(t, gen.CallCount())
}

// stateless answers every Actor call with a plan and every Critic call with
// an approval.
type stateless struct{}

func (stateless) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	text := planJSON(128)
	if strings.Contains(req.User, "## TRAJECTORY TO REVIEW") {
		text = approveJSON
	}
	return &llm.Response{Text: text, InputTokens: llm.EstimateTokens(req.User), OutputTokens: llm.EstimateTokens(text)}, nil
}

func TestExecute_ConcurrentRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	e := newEngine(t, stateless{}, testOptions(2))

	const n = 16
	results := make([]*Result, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			res, err := e.Execute(context.Background(), fmt.Sprintf("%s, variant %d", request, i))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	ids := map[string]struct{}{}
	for i, res := range results {
		assert.Equal(t, TerminationApproved, res.Termination)
		assert.Equal(t, 1, res.Iterations)
		assert.Contains(t, res.Request, fmt.Sprintf("variant %d", i))
		ids[res.RunID] = struct{}{}
	}
	assert.Len(t, ids, n)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	gen := llm.Texts()
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero iterations", func(o *Options) { o.MaxIterations = 0 }},
		{"zero attempts", func(o *Options) { o.MaxAttempts = 0 }},
		{"negative backoff", func(o *Options) { o.BackoffBase = -1 }},
		{"actor temperature", func(o *Options) { o.Actor.Temperature = 1.5 }},
		{"critic temperature", func(o *Options) { o.Critic.Temperature = -0.1 }},
		{"negative tokens", func(o *Options) { o.Critic.MaxTokens = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := New(gen, testRef(), opts)
			assert.Error(t, err)
		})
	}

	_, err := New(nil, testRef(), DefaultOptions())
	assert.Error(t, err)

	_, err = New(gen, reference.Set{}, DefaultOptions())
	assert.Error(t, err)
}

func TestNew_ValidationOrderIsStable(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Actor.Temperature = 2
	opts.Actor.MaxTokens = -1
	opts.Critic.Temperature = 2
	opts.Critic.MaxTokens = -1

	want := strings.Join([]string{
		"actor temperature must be in [0, 1], got 2",
		"actor max tokens must not be negative",
		"critic temperature must be in [0, 1], got 2",
		"critic max tokens must not be negative",
	}, "\n")
	for range 20 {
		_, err := New(llm.Texts(), testRef(), opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), want)
	}
}

func TestExecute_UsesAgentSettings(t *testing.T) {
	t.Parallel()

	gen := &roleScript{actor: llm.Texts(planJSON(128)), critic: llm.Texts(approveJSON)}
	opts := testOptions(1)
	opts.ActorInstruction = "act"
	opts.CriticInstruction = "judge"

	_, err := newEngine(t, gen, opts).Execute(context.Background(), request)
	require.NoError(t, err)

	a := gen.actor.Calls()[0]
	assert.Equal(t, "act", a.System)
	assert.Equal(t, 0.4, a.Temperature)
	assert.Equal(t, 4096, a.MaxTokens)
	assert.Equal(t, contract.PlanSchema, a.OutputSchema)

	c := gen.critic.Calls()[0]
	assert.Equal(t, "judge", c.System)
	assert.Equal(t, 0.2, c.Temperature)
	assert.Equal(t, 2048, c.MaxTokens)
	assert.Equal(t, contract.CritiqueSchema, c.OutputSchema)
}
