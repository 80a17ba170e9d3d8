package contract

import (
	"fmt"
	"strings"
)

const docCritique = "critique"

// Field bounds for Critique documents.
const (
	IssueTextMinLen = 10
	IssueTextMaxLen = 500
	ReviewNotesMax  = 1000
)

// Decision is the Critic's binary verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
)

// Severity grades a blocking issue.
type Severity string

const (
	// SeverityCritical will definitely cause execution failure.
	SeverityCritical Severity = "critical"
	// SeverityMajor will likely produce incorrect results.
	SeverityMajor Severity = "major"
)

// BlockingIssue is a defect that must be fixed before a plan is acceptable.
type BlockingIssue struct {
	Step       int      `json:"step"`
	Issue      string   `json:"issue"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion"`
}

// Critique is the Critic's verdict over one Plan.
type Critique struct {
	Decision           Decision        `json:"decision"`
	BlockingIssues     []BlockingIssue `json:"blocking_issues"`
	MissingInformation []string        `json:"missing_information"`
	ReviewNotes        string          `json:"review_notes,omitempty"`
}

// NewCritique validates and returns a Critique. Decision and severities are
// matched case-insensitively and stored lower-case.
func NewCritique(decision Decision, issues []BlockingIssue, missing []string, notes string) (*Critique, error) {
	c := &Critique{
		Decision:           Decision(strings.ToLower(string(decision))),
		BlockingIssues:     make([]BlockingIssue, len(issues)),
		MissingInformation: append([]string{}, missing...),
		ReviewNotes:        notes,
	}
	for i, issue := range issues {
		issue.Severity = Severity(strings.ToLower(string(issue.Severity)))
		c.BlockingIssues[i] = issue
	}
	if v := c.validate(); len(v) > 0 {
		return nil, violation(docCritique, "", v)
	}
	return c, nil
}

// Approved reports whether the Critic approved the plan.
func (c *Critique) Approved() bool {
	return c.Decision == DecisionApprove
}

// IssueCount returns the number of blocking issues.
func (c *Critique) IssueCount() int {
	return len(c.BlockingIssues)
}

// CriticalIssues returns the blocking issues of critical severity.
func (c *Critique) CriticalIssues() []BlockingIssue {
	return c.bySeverity(SeverityCritical)
}

// MajorIssues returns the blocking issues of major severity.
func (c *Critique) MajorIssues() []BlockingIssue {
	return c.bySeverity(SeverityMajor)
}

func (c *Critique) bySeverity(s Severity) []BlockingIssue {
	var out []BlockingIssue
	for _, issue := range c.BlockingIssues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Feedback renders the critique as actionable text for the Actor's revision
// context: blocking issues with severity markers, then missing information,
// then reviewer notes.
func (c *Critique) Feedback() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## CRITIC DECISION: %s\n\n", strings.ToUpper(string(c.Decision)))

	if len(c.BlockingIssues) > 0 {
		b.WriteString("### BLOCKING ISSUES (Must Fix)\n\n")
		for _, issue := range c.BlockingIssues {
			b.WriteString(issue.Feedback())
			b.WriteString("\n\n")
		}
	}
	if len(c.MissingInformation) > 0 {
		b.WriteString("### MISSING INFORMATION\n")
		for _, info := range c.MissingInformation {
			b.WriteString("- ")
			b.WriteString(info)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if c.ReviewNotes != "" {
		b.WriteString("### REVIEWER NOTES\n")
		b.WriteString(c.ReviewNotes)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Feedback formats one issue with its severity marker.
func (i BlockingIssue) Feedback() string {
	return fmt.Sprintf("[%s] Step %d:\n   Issue: %s\n   Fix: %s",
		strings.ToUpper(string(i.Severity)), i.Step, i.Issue, i.Suggestion)
}

func (c *Critique) validate() []string {
	var v []string
	switch c.Decision {
	case DecisionApprove, DecisionRevise:
	default:
		v = append(v, fmt.Sprintf("decision: must be %q or %q, got %q", DecisionApprove, DecisionRevise, c.Decision))
	}
	for i, issue := range c.BlockingIssues {
		field := fmt.Sprintf("blocking_issues[%d]", i)
		if issue.Step < 1 {
			v = append(v, fmt.Sprintf("%s.step: must be >= 1, got %d", field, issue.Step))
		}
		switch issue.Severity {
		case SeverityCritical, SeverityMajor:
		default:
			v = append(v, fmt.Sprintf("%s.severity: must be %q or %q, got %q", field, SeverityCritical, SeverityMajor, issue.Severity))
		}
		v = checkLen(v, field+".issue", issue.Issue, IssueTextMinLen, IssueTextMaxLen)
		v = checkLen(v, field+".suggestion", issue.Suggestion, IssueTextMinLen, IssueTextMaxLen)
	}
	v = checkLen(v, "review_notes", c.ReviewNotes, 0, ReviewNotesMax)

	hasIssues := len(c.BlockingIssues) > 0
	if hasIssues && c.Decision == DecisionApprove {
		v = append(v, fmt.Sprintf("decision: cannot be %q when %d blocking issues exist", DecisionApprove, len(c.BlockingIssues)))
	}
	if !hasIssues && c.Decision == DecisionRevise {
		v = append(v, fmt.Sprintf("decision: cannot be %q without blocking issues", DecisionRevise))
	}
	return v
}
