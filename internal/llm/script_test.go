package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metalagman/duet/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScript_RepliesInOrder(t *testing.T) {
	t.Parallel()

	boom := NewTransientError(errors.New("rate limited"))
	s := NewScript(Reply{Text: "first"}, Reply{Err: boom}, Reply{Text: "third"})
	ctx := context.Background()

	resp, err := s.Generate(ctx, Request{User: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	_, err = s.Generate(ctx, Request{User: "b"})
	assert.ErrorIs(t, err, boom)

	resp, err = s.Generate(ctx, Request{User: "c"})
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Text)

	_, err = s.Generate(ctx, Request{User: "d"})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.True(t, IsFatal(err))

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "b", calls[1].User)
	assert.Equal(t, 4, s.CallCount())
}

func TestScript_DelayHonoursContext(t *testing.T) {
	t.Parallel()

	s := NewScript(Reply{Text: "late", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestScript_EstimatesTokens(t *testing.T) {
	t.Parallel()

	s := Texts("12345678")
	resp, err := s.Generate(context.Background(), Request{System: "abcd", User: "efgh"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestDemoScript_RepliesAreValid(t *testing.T) {
	t.Parallel()

	s := DemoScript()
	ctx := context.Background()

	texts := make([]string, 0, 5)
	for range 5 {
		resp, err := s.Generate(ctx, Request{})
		require.NoError(t, err)
		texts = append(texts, resp.Text)
	}

	_, err := contract.ParsePlan(texts[0])
	require.NoError(t, err)
	revise, err := contract.ParseCritique(texts[1])
	require.NoError(t, err)
	assert.False(t, revise.Approved())
	final, err := contract.ParsePlan(texts[2])
	require.NoError(t, err)
	assert.Equal(t, 5, final.Len())
	approve, err := contract.ParseCritique(texts[3])
	require.NoError(t, err)
	assert.True(t, approve.Approved())

	assert.Equal(t, texts[0], texts[4], "demo script loops")
}

func TestNew_Providers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, name := range []string{"anthropic", "openai", "mock"} {
		gen, err := New(ctx, Config{Provider: name, APIKey: "k"})
		require.NoError(t, err, name)
		assert.NotNil(t, gen)
	}

	_, err := New(ctx, Config{Provider: "nope"})
	assert.ErrorContains(t, err, "unknown llm provider")

	_, err = New(ctx, Config{Provider: "exec"})
	assert.ErrorContains(t, err, "requires cmd")

	assert.ElementsMatch(t,
		[]string{"anthropic", "claude", "codex", "exec", "gemini", "gemini-cli", "mock", "openai", "opencode"},
		Providers())
}

func TestConfig_APIKey(t *testing.T) {
	t.Setenv("DUET_TEST_KEY", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "default-env")

	assert.Equal(t, "explicit", Config{APIKey: "explicit", APIKeyEnv: "DUET_TEST_KEY"}.apiKey("anthropic"))
	assert.Equal(t, "from-env", Config{APIKeyEnv: "DUET_TEST_KEY"}.apiKey("anthropic"))
	assert.Equal(t, "default-env", Config{}.apiKey("anthropic"))
	assert.Equal(t, "", Config{}.apiKey("mock"))
}

func TestPrepareCmd(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"codex", "exec", "--model", "o3", "--skip-git-repo-check"}, prepareCmd("codex", cliSpecs["codex"], "o3"))
	assert.Equal(t, []string{"gemini", "--output-format", "text"}, prepareCmd("gemini-cli", cliSpecs["gemini-cli"], ""))
}
