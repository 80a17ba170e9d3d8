package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/llm"
	"github.com/metalagman/duet/internal/reference"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, refiner Refiner) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	srv := New(refiner, "test")
	serverSession, err := srv.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func demoEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ref, err := reference.Default()
	require.NoError(t, err)
	opts := engine.DefaultOptions()
	opts.MaxIterations = 3
	opts.BackoffBase = 0
	e, err := engine.New(llm.DemoScript(), ref, opts)
	require.NoError(t, err)
	return e
}

func TestServer_ListsTool(t *testing.T) {
	t.Parallel()

	session := connect(t, demoEngine(t))
	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, ToolName, tools.Tools[0].Name)
	assert.NotNil(t, tools.Tools[0].InputSchema)
}

func TestServer_RefinePlan(t *testing.T) {
	t.Parallel()

	session := connect(t, demoEngine(t))
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"request": "Create a mountain terrain with grass on midlands and rocks in lowlands"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out RefineOutput
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, string(engine.TerminationApproved), out.Termination)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Iterations)
	assert.NotEmpty(t, out.RunID)
	assert.Contains(t, out.Summary, "[OK] SUCCESS")
	steps, ok := out.Plan["tool_plan"].([]any)
	require.True(t, ok)
	assert.Len(t, steps, 5)
}

func TestServer_EmptyRequestIsToolError(t *testing.T) {
	t.Parallel()

	session := connect(t, demoEngine(t))
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"request": "  "},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
