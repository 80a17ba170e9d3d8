// Package mcpserver exposes plan refinement as a Model Context Protocol tool.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/render"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// ToolName is the name of the refinement tool.
const ToolName = "refine_plan"

// Refiner runs one refinement request.
type Refiner interface {
	Execute(ctx context.Context, request string) (*engine.Result, error)
}

// RefineInput is the tool's argument object.
type RefineInput struct {
	Request string `json:"request" jsonschema:"natural-language description of the content to generate"`
}

// RefineOutput is the tool's structured result.
type RefineOutput struct {
	RunID        string         `json:"run_id"`
	Termination  string         `json:"termination"`
	Success      bool           `json:"success"`
	Iterations   int            `json:"iterations"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Plan         map[string]any `json:"plan"`
	Summary      string         `json:"summary"`
}

// Server wraps an MCP server bound to a Refiner.
type Server struct {
	refiner Refiner
	mcp     *mcp.Server
}

// New builds a Server with the refine_plan tool registered.
func New(refiner Refiner, version string) *Server {
	s := &Server{
		refiner: refiner,
		mcp:     mcp.NewServer(&mcp.Implementation{Name: "duet", Version: version}, nil),
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolName,
		Description: "Turn a natural-language content request into a validated, step-by-step tool plan. " +
			"An Actor drafts the plan and a Critic reviews it against the tool documentation until it is approved " +
			"or the iteration budget runs out.",
	}, s.refine)
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves on transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	err := s.mcp.Run(ctx, transport)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) refine(ctx context.Context, _ *mcp.CallToolRequest, in RefineInput) (*mcp.CallToolResult, RefineOutput, error) {
	if strings.TrimSpace(in.Request) == "" {
		return nil, RefineOutput{}, engine.ErrEmptyRequest
	}
	log.Info().Str("tool", ToolName).Msg("tool call")

	res, err := s.refiner.Execute(ctx, in.Request)
	if err != nil {
		return nil, RefineOutput{}, err
	}
	out, err := toOutput(res)
	if err != nil {
		return nil, RefineOutput{}, err
	}
	return nil, out, nil
}

func toOutput(res *engine.Result) (RefineOutput, error) {
	raw, err := res.FinalPlan.Canonical()
	if err != nil {
		return RefineOutput{}, fmt.Errorf("encode plan: %w", err)
	}
	var plan map[string]any
	if err := json.Unmarshal(raw, &plan); err != nil {
		return RefineOutput{}, fmt.Errorf("decode plan: %w", err)
	}
	return RefineOutput{
		RunID:        res.RunID,
		Termination:  string(res.Termination),
		Success:      res.Success,
		Iterations:   res.Iterations,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Plan:         plan,
		Summary:      render.Summary(res),
	}, nil
}
