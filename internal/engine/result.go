package engine

import (
	"time"

	"github.com/metalagman/duet/internal/contract"
)

// Termination is the reason a refinement run stopped.
type Termination string

const (
	TerminationApproved      Termination = "approved"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationError         Termination = "error"
	TerminationTimeout       Termination = "timeout"
)

// State is a refinement state machine state.
type State string

const (
	StateInit       State = "init"
	StateGenerating State = "generating"
	StateEvaluating State = "evaluating"
	StateRevising   State = "revising"
	StateDone       State = "done"
)

// CallStats summarises one agent call.
type CallStats struct {
	Duration     time.Duration `json:"duration"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Attempts     int           `json:"attempts"`
}

// IterationRecord is one evaluated plan. Actor holds the stats of the call
// that produced Plan.
type IterationRecord struct {
	Iteration int                `json:"iteration"`
	Plan      *contract.Plan     `json:"plan"`
	Critique  *contract.Critique `json:"critique,omitempty"`
	Actor     CallStats          `json:"actor"`
	Critic    CallStats          `json:"critic"`
	Timestamp time.Time          `json:"timestamp"`
}

// Result is the outcome of one Execute call. It is not modified after
// Execute returns.
type Result struct {
	RunID        string            `json:"run_id"`
	Request      string            `json:"request"`
	FinalPlan    *contract.Plan    `json:"final_plan"`
	Termination  Termination       `json:"termination"`
	Success      bool              `json:"success"`
	Iterations   int               `json:"iterations"`
	History      []IterationRecord `json:"history"`
	Duration     time.Duration     `json:"duration"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
}

// FinalCritique returns the critique of the last evaluated plan, or nil.
func (r *Result) FinalCritique() *contract.Critique {
	if len(r.History) == 0 {
		return nil
	}
	return r.History[len(r.History)-1].Critique
}

// TotalTokens returns input plus output tokens across all calls.
func (r *Result) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
