// Package render formats refinement results and run history for terminals.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/db"
	"github.com/metalagman/duet/internal/engine"
)

const (
	rule          = "============================================================"
	summaryMaxLen = 100
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Summary returns the plain-text result summary.
func Summary(res *engine.Result) string {
	status := "[!] BEST EFFORT"
	if res.Success {
		status = "[OK] SUCCESS"
	}
	lines := []string{
		rule,
		"REFINEMENT RESULT SUMMARY",
		rule,
		"Status: " + status,
		"Termination: " + string(res.Termination),
		fmt.Sprintf("Iterations: %d", res.Iterations),
		fmt.Sprintf("Duration: %.2fms", float64(res.Duration)/float64(time.Millisecond)),
		fmt.Sprintf("Tokens: %s (in: %s, out: %s)",
			Thousands(res.TotalTokens()), Thousands(res.InputTokens), Thousands(res.OutputTokens)),
	}
	if p := res.FinalPlan; p != nil {
		lines = append(lines,
			"",
			"FINAL TRAJECTORY:",
			"  Summary: "+truncate(p.Summary(), summaryMaxLen)+"...",
			fmt.Sprintf("  Steps: %d", p.Len()),
			"  Tools: "+strings.Join(p.ToolNames(), ", "),
		)
		if n := len(p.Risks()); n > 0 {
			lines = append(lines, fmt.Sprintf("  Risks: %d", n))
		}
	}
	return strings.Join(lines, "\n")
}

// StyledSummary is Summary with the title and status line coloured.
func StyledSummary(res *engine.Result) string {
	text := Summary(res)
	status := successStyle
	switch {
	case res.Termination == engine.TerminationTimeout:
		status = failStyle
	case !res.Success:
		status = warnStyle
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		switch {
		case line == "REFINEMENT RESULT SUMMARY":
			line = titleStyle.Render(line)
		case strings.HasPrefix(line, "Status: "):
			line = "Status: " + status.Render(strings.TrimPrefix(line, "Status: "))
		case line == rule:
			line = dimStyle.Render(line)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Markdown returns a report of the final plan and the last critique.
func Markdown(res *engine.Result) string {
	var sb strings.Builder
	sb.WriteString("# Refinement result\n\n")
	fmt.Fprintf(&sb, "**Termination:** `%s` after %d iteration(s)\n\n", res.Termination, res.Iterations)
	if res.FinalPlan != nil {
		writePlan(&sb, res.FinalPlan)
	}
	if c := res.FinalCritique(); c != nil {
		writeCritique(&sb, c)
	}
	return sb.String()
}

func writePlan(sb *strings.Builder, p *contract.Plan) {
	sb.WriteString("## Plan\n\n")
	sb.WriteString(p.Summary())
	sb.WriteString("\n\n| Step | Tool | Objective | Expected result |\n|---|---|---|---|\n")
	for _, s := range p.Steps() {
		fmt.Fprintf(sb, "| %d | `%s` | %s | %s |\n", s.Number, s.Tool, cell(s.Objective), cell(s.ExpectedResult))
	}
	if risks := p.Risks(); len(risks) > 0 {
		sb.WriteString("\n### Risks\n\n")
		for _, r := range risks {
			fmt.Fprintf(sb, "- %s\n", r)
		}
	}
	sb.WriteString("\n")
}

func writeCritique(sb *strings.Builder, c *contract.Critique) {
	fmt.Fprintf(sb, "## Last critique: %s\n\n", strings.ToUpper(string(c.Decision)))
	for _, issue := range c.BlockingIssues {
		fmt.Fprintf(sb, "- **[%s] step %d:** %s. *Fix:* %s\n",
			strings.ToUpper(string(issue.Severity)), issue.Step, issue.Issue, issue.Suggestion)
	}
	if len(c.MissingInformation) > 0 {
		sb.WriteString("\n### Missing information\n\n")
		for _, m := range c.MissingInformation {
			fmt.Fprintf(sb, "- %s\n", m)
		}
	}
	if c.ReviewNotes != "" {
		fmt.Fprintf(sb, "\n> %s\n", c.ReviewNotes)
	}
}

// RenderMarkdown renders md for a terminal of the given width. When styled
// is false the output carries no ANSI escapes.
func RenderMarkdown(md string, width int, styled bool) (string, error) {
	style := glamour.WithStandardStyle("notty")
	if styled {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

// RunsTable renders run history as a table.
func RunsTable(runs []db.RunSummary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("RUN", "CREATED", "STATUS", "TERMINATION", "ITER", "TOKENS", "REQUEST").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range runs {
		t.Row(
			shortID(r.RunID),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Status,
			r.Termination,
			strconv.Itoa(r.Iterations),
			Thousands(r.InputTokens+r.OutputTokens),
			truncate(r.Request, 40),
		)
	}
	return t.String()
}

// Thousands formats n with comma separators.
func Thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
