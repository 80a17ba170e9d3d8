// Package prompt builds the per-call context text for the Actor and Critic.
//
// A Builder keeps exactly one current plan and one latest critique. Update
// overwrites both, so a revision context never grows with the number of
// iterations.
package prompt

import (
	"fmt"
	"strings"

	"github.com/metalagman/duet/internal/contract"
)

const (
	revisionInstruction = "Please generate a REVISED trajectory that addresses ALL blocking issues."
	reviewInstruction   = "Review the trajectory against the API Documentation and user request. " +
		"Apply the 5-dimension review framework and provide your verdict."
)

// Builder assembles generation and evaluation contexts for one request.
// It is not safe for concurrent use; create one per request.
type Builder struct {
	docs     string
	examples []string

	plan      *contract.Plan
	critique  *contract.Critique
	iteration int
}

// NewBuilder returns a Builder over fixed reference data.
func NewBuilder(docs string, examples []string) *Builder {
	return &Builder{
		docs:     docs,
		examples: append([]string(nil), examples...),
	}
}

// BuildGenerationContext returns the Actor context for request. The revision
// block is included only when both a plan and a critique are held.
func (b *Builder) BuildGenerationContext(request string) (string, error) {
	var sb strings.Builder

	section(&sb, "## USER REQUEST", request)
	section(&sb, "## API DOCUMENTATION", b.docs)
	b.writeExamples(&sb, "## USAGE EXAMPLES")

	if b.plan != nil && b.critique != nil {
		planText, err := contract.SerializeIndent(b.plan)
		if err != nil {
			return "", fmt.Errorf("serialize previous plan: %w", err)
		}
		sb.WriteString("## REVISION CONTEXT\n\n")
		sb.WriteString("Your previous trajectory received feedback and must be revised.\n\n")
		sb.WriteString("### YOUR PREVIOUS TRAJECTORY\n```json\n")
		sb.WriteString(planText)
		sb.WriteString("\n```\n\n")
		section(&sb, "### CRITIC FEEDBACK", b.critique.Feedback())
		sb.WriteString(revisionInstruction)
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}

// BuildEvaluationContext returns the Critic context for reviewing plan.
func (b *Builder) BuildEvaluationContext(plan *contract.Plan, request string) (string, error) {
	planText, err := contract.SerializeIndent(plan)
	if err != nil {
		return "", fmt.Errorf("serialize plan: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("## TRAJECTORY TO REVIEW\n```json\n")
	sb.WriteString(planText)
	sb.WriteString("\n```\n\n")
	section(&sb, "## ORIGINAL USER REQUEST", request)
	section(&sb, "## API DOCUMENTATION (Source of Truth)", b.docs)
	b.writeExamples(&sb, "## VALIDATED USAGE EXAMPLES")
	sb.WriteString("## YOUR TASK\n")
	sb.WriteString(reviewInstruction)

	return sb.String(), nil
}

// Update replaces the held plan and critique and advances the iteration.
func (b *Builder) Update(plan *contract.Plan, critique *contract.Critique) {
	b.plan = plan
	b.critique = critique
	b.iteration++
}

// Reset clears all state.
func (b *Builder) Reset() {
	b.plan = nil
	b.critique = nil
	b.iteration = 0
}

// Iteration returns the number of Update calls since the last Reset.
func (b *Builder) Iteration() int {
	return b.iteration
}

// HasPrevious reports whether a plan is held.
func (b *Builder) HasPrevious() bool {
	return b.plan != nil
}

func (b *Builder) writeExamples(sb *strings.Builder, heading string) {
	if len(b.examples) == 0 {
		return
	}
	sb.WriteString(heading)
	sb.WriteString("\n")
	for i, ex := range b.examples {
		section(sb, fmt.Sprintf("### Example %d", i+1), ex)
	}
}

func section(sb *strings.Builder, heading, body string) {
	sb.WriteString(heading)
	sb.WriteString("\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
}
