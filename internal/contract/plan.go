// Package contract defines the structured outputs exchanged with the Actor and
// Critic agents: the Plan and the Critique. It owns parsing, validation,
// canonical serialization and fingerprinting of both documents.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const docPlan = "plan"

// Field bounds for Plan documents.
const (
	SummaryMinLen  = 20
	SummaryMaxLen  = 2000
	StepTextMinLen = 10
	StepTextMaxLen = 500
	ToolNameMaxLen = 100
	MinSteps       = 1
	MaxSteps       = 20
	MaxRisks       = 10
)

// errorArtifactTool names the single step of the synthetic placeholder plan.
const errorArtifactTool = "ErrorPlaceholder"

var placeholderTokens = map[string]struct{}{
	"":            {},
	"TBD":         {},
	"TODO":        {},
	"PLACEHOLDER": {},
	"???":         {},
	"N/A":         {},
}

// Step is one operation in a Plan.
type Step struct {
	Number         int            `json:"step"`
	Objective      string         `json:"objective"`
	Tool           string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	ExpectedResult string         `json:"expected_result"`
}

// Plan is the Actor's proposal. It is immutable: construct it with NewPlan or
// ParsePlan and read it through accessors, which return copies.
type Plan struct {
	summary string
	steps   []Step
	risks   []string

	placeholder bool
}

type planDoc struct {
	Summary string   `json:"trajectory_summary"`
	Steps   []Step   `json:"tool_plan"`
	Risks   []string `json:"risks"`
}

// NewPlan validates its input and returns a Plan holding a private copy of it.
// Argument values are normalised to their JSON form, so a plan built here is
// content-equal to the same plan parsed back from its serialization.
func NewPlan(summary string, steps []Step, risks []string) (*Plan, error) {
	doc := planDoc{Summary: summary, Steps: steps, Risks: risks}
	p, err := doc.normalize()
	if err != nil {
		return nil, violation(docPlan, "", []string{err.Error()})
	}
	if violations := p.validate(); len(violations) > 0 {
		return nil, violation(docPlan, "", violations)
	}
	return p, nil
}

// Summary returns the free-text plan summary.
func (p *Plan) Summary() string { return p.summary }

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Steps returns a deep copy of the steps.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.clone()
	}
	return out
}

// Step returns a copy of the step with the given 1-based number.
func (p *Plan) Step(number int) (Step, bool) {
	if number < 1 || number > len(p.steps) {
		return Step{}, false
	}
	return p.steps[number-1].clone(), true
}

// Risks returns a copy of the risk statements.
func (p *Plan) Risks() []string {
	return append([]string{}, p.risks...)
}

// ToolNames lists the operation names in step order.
func (p *Plan) ToolNames() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Tool
	}
	return out
}

// IsErrorArtifact reports whether p is the synthetic placeholder returned when
// a request ended before any real plan was produced. Only ErrorPlaceholderPlan
// sets it; parsed or decoded plans never carry it.
func (p *Plan) IsErrorArtifact() bool {
	return p.placeholder
}

// Equal reports content equality.
func (p *Plan) Equal(other *Plan) bool {
	if p == nil || other == nil {
		return p == other
	}
	a, errA := p.Canonical()
	b, errB := other.Canonical()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MarshalJSON encodes the plan in its wire format.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return marshalCanonical(p.doc())
}

// UnmarshalJSON decodes and validates a plan in wire format.
func (p *Plan) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePlan(string(data))
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ErrorPlaceholderPlan builds the synthetic plan substituted when a request
// terminated before the Actor produced anything usable.
func ErrorPlaceholderPlan() *Plan {
	return &Plan{
		summary: "Error: no plan was generated because the request terminated early",
		steps: []Step{{
			Number:         1,
			Objective:      "Placeholder left by an aborted refinement",
			Tool:           errorArtifactTool,
			Arguments:      map[string]any{"error": true},
			ExpectedResult: "None, plan generation did not complete",
		}},
		risks:       []string{"Plan generation failed; this plan is a placeholder and must not be executed"},
		placeholder: true,
	}
}

func (p *Plan) doc() planDoc {
	return planDoc{Summary: p.summary, Steps: p.steps, Risks: p.risks}
}

// normalize deep-copies the document into a Plan, rewriting argument values
// through JSON so numbers become json.Number and containers become
// map[string]any / []any.
func (d planDoc) normalize() (*Plan, error) {
	p := &Plan{
		summary: d.Summary,
		steps:   make([]Step, len(d.Steps)),
		risks:   append([]string{}, d.Risks...),
	}
	for i, s := range d.Steps {
		args, err := normalizeArguments(s.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool_plan[%d].arguments: %w", i, err)
		}
		s.Arguments = args
		p.steps[i] = s
	}
	return p, nil
}

func normalizeArguments(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("not JSON-encodable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Plan) validate() []string {
	var v []string
	v = checkLen(v, "trajectory_summary", p.summary, SummaryMinLen, SummaryMaxLen)
	if n := len(p.steps); n < MinSteps || n > MaxSteps {
		v = append(v, fmt.Sprintf("tool_plan: must have %d-%d steps, got %d", MinSteps, MaxSteps, n))
	}
	for i, s := range p.steps {
		field := fmt.Sprintf("tool_plan[%d]", i)
		if s.Number != i+1 {
			v = append(v, fmt.Sprintf("%s.step: steps must be sequential, expected %d, got %d", field, i+1, s.Number))
		}
		v = checkLen(v, field+".objective", s.Objective, StepTextMinLen, StepTextMaxLen)
		v = checkLen(v, field+".tool_name", s.Tool, 1, ToolNameMaxLen)
		v = checkLen(v, field+".expected_result", s.ExpectedResult, StepTextMinLen, StepTextMaxLen)
		for name, val := range s.Arguments {
			v = checkArgument(v, field+".arguments."+name, val, true)
		}
	}
	if len(p.risks) > MaxRisks {
		v = append(v, fmt.Sprintf("risks: at most %d entries, got %d", MaxRisks, len(p.risks)))
	}
	return v
}

// checkArgument rejects nulls and placeholder strings at any depth. Nulls
// nested inside containers are tolerated only when top is false.
func checkArgument(v []string, path string, val any, top bool) []string {
	switch t := val.(type) {
	case nil:
		if top {
			v = append(v, fmt.Sprintf("%s: argument cannot be null", path))
		}
	case string:
		if IsPlaceholder(t) {
			v = append(v, fmt.Sprintf("%s: placeholder value %q not allowed", path, t))
		}
	case map[string]any:
		for k, inner := range t {
			v = checkArgument(v, path+"."+k, inner, false)
		}
	case []any:
		for i, inner := range t {
			v = checkArgument(v, fmt.Sprintf("%s[%d]", path, i), inner, false)
		}
	}
	return v
}

// IsPlaceholder reports whether s is an empty or placeholder token.
func IsPlaceholder(s string) bool {
	_, ok := placeholderTokens[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

func checkLen(v []string, field, s string, minLen, maxLen int) []string {
	n := utf8.RuneCountInString(s)
	if n < minLen || n > maxLen {
		v = append(v, fmt.Sprintf("%s: length must be %d-%d, got %d", field, minLen, maxLen, n))
	}
	return v
}

func (s Step) clone() Step {
	s.Arguments = cloneMap(s.Arguments)
	return s
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
