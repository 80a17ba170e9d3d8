package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/metalagman/ainvoke"
	"github.com/metalagman/duet/internal/logging"
)

type cliSpec struct {
	defaultSubcommand string
	extraFlags        []string
}

// cliSpecs lists coding-agent CLIs that can stand in for a model API.
var cliSpecs = map[string]cliSpec{
	"codex": {
		defaultSubcommand: "exec",
		extraFlags:        []string{"--skip-git-repo-check"},
	},
	"opencode": {
		defaultSubcommand: "run",
	},
	"gemini-cli": {
		extraFlags: []string{"--output-format", "text"},
	},
	"claude": {
		extraFlags: []string{"--output-format", "text", "--print"},
	},
}

// execInput is written as input.json for the invoked agent.
type execInput struct {
	Context string `json:"context"`
}

const execInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {"context": {"type": "string"}},
  "required": ["context"]
}`

const anyObjectSchema = `{"type": "object"}`

// ExecGenerator runs an external agent command per call through ainvoke.
// Token usage is estimated because CLIs do not report it.
type ExecGenerator struct {
	runner ainvoke.Runner
	cmd    []string
}

// NewExecGenerator builds a generator for cliType. "exec" requires an
// explicit cmd; known CLI names build their command line from model.
func NewExecGenerator(cliType, model string, cmd []string) (*ExecGenerator, error) {
	switch spec, ok := cliSpecs[cliType]; {
	case cliType == "exec":
		if len(cmd) == 0 {
			return nil, errors.New("exec backend requires cmd")
		}
	case ok:
		cmd = prepareCmd(cliType, spec, model)
	default:
		return nil, fmt.Errorf("unknown agent CLI %q", cliType)
	}

	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{Cmd: cmd})
	if err != nil {
		return nil, fmt.Errorf("create agent runner: %w", err)
	}
	return &ExecGenerator{runner: runner, cmd: cmd}, nil
}

func prepareCmd(name string, spec cliSpec, model string) []string {
	bin := name
	if name == "gemini-cli" {
		bin = "gemini"
	}
	out := []string{bin}
	if spec.defaultSubcommand != "" {
		out = append(out, spec.defaultSubcommand)
	}
	if model != "" {
		out = append(out, "--model", model)
	}
	return append(out, spec.extraFlags...)
}

// Command returns the resolved command line.
func (g *ExecGenerator) Command() []string {
	return append([]string(nil), g.cmd...)
}

// Generate implements Generator.
func (g *ExecGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	runDir, err := os.MkdirTemp("", "duet-exec-*")
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create run dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	outputSchema := req.OutputSchema
	if outputSchema == "" {
		outputSchema = anyObjectSchema
	}

	var stderr bytes.Buffer
	stdoutW, stderrW := agentOutputWriters(logging.DebugEnabled(), os.Stderr, io.Discard, &stderr)
	out, _, exitCode, err := g.runner.Run(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: req.System,
		Input:        execInput{Context: req.User},
		InputSchema:  execInputSchema,
		OutputSchema: outputSchema,
	}, ainvoke.WithStdout(stdoutW), ainvoke.WithStderr(stderrW))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(fmt.Errorf("run agent (exit %d): %w: %s", exitCode, err, tail(stderr.String(), 200)))
	}

	text := string(out)
	return &Response{
		Text:         text,
		InputTokens:  EstimateTokens(req.System + req.User),
		OutputTokens: EstimateTokens(text),
		FinishReason: "stop",
		Model:        g.cmd[0],
	}, nil
}

// agentOutputWriters mirrors agent output to mirror in debug mode. Both
// streams go to the same mirror since stdout may carry a protocol.
func agentOutputWriters(debug bool, mirror, stdoutLog, stderrLog io.Writer) (io.Writer, io.Writer) {
	if !debug {
		return stdoutLog, stderrLog
	}
	return io.MultiWriter(mirror, stdoutLog), io.MultiWriter(mirror, stderrLog)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
