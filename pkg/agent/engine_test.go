package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daneel/olivaw/pkg/chat"
	"github.com/daneel/olivaw/pkg/toolbridge"
)

// scriptedClient replays canned responses or errors in order.
type scriptedClient struct {
	provider string
	turns    []func(req CompletionRequest) (*CompletionResponse, error)
	calls    int
	requests []CompletionRequest
}

func (c *scriptedClient) ProviderID() string { return c.provider }

func (c *scriptedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.requests = append(c.requests, req)
	if c.calls >= len(c.turns) {
		return nil, errors.New("scripted client exhausted")
	}
	turn := c.turns[c.calls]
	c.calls++
	return turn(req)
}

func textTurn(text string) func(CompletionRequest) (*CompletionResponse, error) {
	return func(CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Content: text, FinishReason: FinishStop}, nil
	}
}

func toolTurn(content string, calls ...chat.ToolCall) func(CompletionRequest) (*CompletionResponse, error) {
	return func(CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Content: content, ToolCalls: calls, FinishReason: "tool_use"}, nil
	}
}

func errTurn(msg string) func(CompletionRequest) (*CompletionResponse, error) {
	return func(CompletionRequest) (*CompletionResponse, error) {
		return nil, errors.New(msg)
	}
}

func engineFor(execs ...CompletionExecution) *Engine {
	registry := StaticRegistry{}
	idx := 0
	router := &scriptedRouter{}
	for range execs {
		router.steps = append(router.steps, func() (*Credential, error) {
			e := execs[idx%len(execs)]
			idx++
			return &Credential{
				ProfileID:  e.ProfileID,
				ProviderID: e.ProviderID,
				APIKey:     "test-key",
			}, nil
		})
	}
	for _, e := range execs {
		e := e
		registry[e.ProviderID] = ProviderInfo{
			ID:           e.ProviderID,
			DefaultModel: e.ModelID,
			Models:       []ModelInfo{{ID: e.ModelID, ContextWindow: e.ContextWindow}},
			NewClient: func(opts TransportOptions) (ModelClient, error) {
				return e.Client, nil
			},
		}
	}
	return NewEngine(NewResolver(registry, router, nil), nil, DefaultEngineConfig())
}

func execWith(profile, provider string, window int, client ModelClient) CompletionExecution {
	return CompletionExecution{
		ProviderID:    provider,
		ModelID:       provider + "-model",
		ProfileID:     profile,
		ContextWindow: window,
		Client:        client,
	}
}

func TestEngineRun(t *testing.T) {
	t.Run("should complete a plain text run", func(t *testing.T) {
		client := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("Hello there!\nMore detail below."),
		}}
		engine := engineFor(execWith("a", "p1", 200000, client))

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Hello there!\nMore detail below.", result.Text)
		assert.Equal(t, FinishStop, result.FinishReason)
		assert.Equal(t, 1, result.Steps)
		assert.Equal(t, "Hello there!", result.Title)
		assert.Equal(t, "p1", result.ProviderID)
	})

	t.Run("should execute tool calls and loop to completion", func(t *testing.T) {
		var executed []string
		catalog := toolbridge.StaticCatalog{{
			ID:          "lookup",
			Description: "looks things up",
			Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
				executed = append(executed, args["q"].(string))
				return toolbridge.Result{Output: "42"}
			},
		}}

		client := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			toolTurn("checking", chat.ToolCall{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "answer"}}),
			textTurn("The answer is 42."),
		}}
		engine := engineFor(execWith("a", "p1", 200000, client))

		var thoughts []string
		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "what is the answer"}},
			Catalog:  catalog,
			Callbacks: agentThoughts(&thoughts),
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"answer"}, executed)
		assert.Equal(t, "The answer is 42.", result.Text)
		assert.Equal(t, 2, result.Steps)
		assert.Equal(t, 1, result.ToolCalls)
		assert.Equal(t, []string{"checking", "The answer is 42."}, thoughts)

		// Second request carries the assistant tool call and the tool
		// result back to the model.
		require.Len(t, client.requests, 2)
		second := client.requests[1]
		var sawToolResult bool
		for _, m := range second.Messages {
			if m.Role == chat.RoleTool && m.ToolCallID == "c1" {
				sawToolResult = true
				assert.Equal(t, "42", m.Text())
			}
		}
		assert.True(t, sawToolResult)
	})

	t.Run("should emit the final answer as a thought", func(t *testing.T) {
		client := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("All done."),
		}}
		engine := engineFor(execWith("a", "p1", 200000, client))

		var thoughts []string
		_, err := engine.Run(context.Background(), RunInput{
			Messages:  []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
			Callbacks: agentThoughts(&thoughts),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"All done."}, thoughts)
	})

	t.Run("should feed tool errors back to the model", func(t *testing.T) {
		catalog := toolbridge.StaticCatalog{{
			ID: "flaky",
			Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
				return toolbridge.Result{Err: errors.New("backend down")}
			},
		}}
		client := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			toolTurn("", chat.ToolCall{ID: "c1", Name: "flaky"}),
			textTurn("The tool is unavailable."),
		}}
		engine := engineFor(execWith("a", "p1", 200000, client))

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "try it"}},
			Catalog:  catalog,
		})
		require.NoError(t, err)
		assert.Equal(t, "The tool is unavailable.", result.Text)

		second := client.requests[1]
		var toolMsg string
		for _, m := range second.Messages {
			if m.Role == chat.RoleTool {
				toolMsg = m.Text()
			}
		}
		assert.Contains(t, toolMsg, "Error:")
		assert.Contains(t, toolMsg, "backend down")
	})

	t.Run("should fail over on rate limits and skip the candidate afterwards", func(t *testing.T) {
		limited := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("429 too many requests"),
		}}
		healthy := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("served by backup"),
		}}
		engine := engineFor(
			execWith("a", "p1", 200000, limited),
			execWith("b", "p2", 200000, healthy),
		)

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "served by backup", result.Text)
		assert.Equal(t, "p2", result.ProviderID)
		assert.Equal(t, 1, limited.calls)
	})

	t.Run("should skip every later candidate of a rate-limited provider", func(t *testing.T) {
		shared := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("429 too many requests"),
			textTurn("must never be served"),
		}}
		healthy := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("served by backup"),
		}}

		router := &reportingRouter{scriptedRouter: scriptedRouter{steps: []func() (*Credential, error){
			cred(Credential{ProfileID: "a", ProviderID: "p1", APIKey: "k"}),
			cred(Credential{ProfileID: "b", ProviderID: "p1", APIKey: "k", DefaultModel: "p1-alt"}),
			cred(Credential{ProfileID: "c", ProviderID: "p2", APIKey: "k"}),
		}}}
		registry := StaticRegistry{
			"p1": ProviderInfo{
				ID:           "p1",
				DefaultModel: "p1-model",
				Models:       []ModelInfo{{ID: "p1-model", ContextWindow: 200000}, {ID: "p1-alt", ContextWindow: 200000}},
				NewClient:    func(TransportOptions) (ModelClient, error) { return shared, nil },
			},
			"p2": ProviderInfo{
				ID:           "p2",
				DefaultModel: "p2-model",
				Models:       []ModelInfo{{ID: "p2-model", ContextWindow: 200000}},
				NewClient:    func(TransportOptions) (ModelClient, error) { return healthy, nil },
			},
		}
		engine := NewEngine(NewResolver(registry, router, nil), nil, DefaultEngineConfig())

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "served by backup", result.Text)
		assert.Equal(t, 1, shared.calls)
		assert.Equal(t, []string{"p1"}, router.rateLimits)
	})

	t.Run("should report non-rate-limit failures to the router", func(t *testing.T) {
		broken := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("connection refused"),
		}}
		router := &reportingRouter{scriptedRouter: scriptedRouter{steps: []func() (*Credential, error){
			cred(Credential{ProfileID: "a", ProviderID: "p1", APIKey: "k"}),
		}}}
		registry := StaticRegistry{
			"p1": ProviderInfo{
				ID:           "p1",
				DefaultModel: "p1-model",
				Models:       []ModelInfo{{ID: "p1-model", ContextWindow: 200000}},
				NewClient:    func(TransportOptions) (ModelClient, error) { return broken, nil },
			},
		}
		engine := NewEngine(NewResolver(registry, router, nil), nil, DefaultEngineConfig())

		_, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Equal(t, []string{"a"}, router.failures)
	})

	t.Run("should skip candidates with tiny context windows", func(t *testing.T) {
		tiny := &scriptedClient{provider: "p1"}
		healthy := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("ok"),
		}}
		engine := engineFor(
			execWith("a", "p1", 8000, tiny),
			execWith("b", "p2", 200000, healthy),
		)

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "p2", result.ProviderID)
		assert.Zero(t, tiny.calls)
	})

	t.Run("should return the overflow fallback when every candidate overflows", func(t *testing.T) {
		c1 := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("prompt is too long: 300000 tokens"),
		}}
		c2 := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("context_length_exceeded"),
		}}
		engine := engineFor(
			execWith("a", "p1", 200000, c1),
			execWith("b", "p2", 200000, c2),
		)

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Equal(t, FinishError, result.FinishReason)
		assert.Contains(t, result.Text, "context window")
	})

	t.Run("should return the generic fallback for other exhaustion", func(t *testing.T) {
		c1 := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("connection refused"),
		}}
		engine := engineFor(execWith("a", "p1", 200000, c1))

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Equal(t, FinishError, result.FinishReason)
		assert.Contains(t, result.Text, "provider")
	})

	t.Run("should pick the fallback from the last failure, not any earlier one", func(t *testing.T) {
		overflowing := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("context_length_exceeded"),
		}}
		flaky := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			errTurn("connection refused"),
		}}
		engine := engineFor(
			execWith("a", "p1", 200000, overflowing),
			execWith("b", "p2", 200000, flaky),
		)

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Equal(t, genericFallback, result.Text)
	})

	t.Run("should abort immediately on cancellation", func(t *testing.T) {
		c1 := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			func(CompletionRequest) (*CompletionResponse, error) { return nil, context.Canceled },
		}}
		c2 := &scriptedClient{provider: "p2", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn("should not be reached"),
		}}
		engine := engineFor(
			execWith("a", "p1", 200000, c1),
			execWith("b", "p2", 200000, c2),
		)

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Equal(t, FinishAbort, result.FinishReason)
		assert.Zero(t, c2.calls)
	})

	t.Run("should stop at the step ceiling", func(t *testing.T) {
		catalog := toolbridge.StaticCatalog{{
			ID: "loop",
			Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
				return toolbridge.Result{Output: "again"}
			},
		}}
		turns := make([]func(CompletionRequest) (*CompletionResponse, error), 0, maxSteps+5)
		for i := 0; i < maxSteps+5; i++ {
			turns = append(turns, toolTurn("", chat.ToolCall{ID: "c", Name: "loop"}))
		}
		client := &scriptedClient{provider: "p1", turns: turns}
		engine := engineFor(execWith("a", "p1", 200000, client))

		result, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "go"}},
			Catalog:  catalog,
		})
		require.NoError(t, err)
		assert.Equal(t, maxSteps, result.Steps)
		assert.Equal(t, FinishStop, result.FinishReason)
		assert.NotEmpty(t, result.Text)
	})

	t.Run("should emit summary and done callbacks", func(t *testing.T) {
		long := strings.Repeat("word ", 100)
		client := &scriptedClient{provider: "p1", turns: []func(CompletionRequest) (*CompletionResponse, error){
			textTurn(long),
		}}
		engine := engineFor(execWith("a", "p1", 200000, client))

		var summary string
		var done *RunResult
		_, err := engine.Run(context.Background(), RunInput{
			Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
			Callbacks: Callbacks{
				OnSummary: func(s string) { summary = s },
				OnDone:    func(r RunResult) { done = &r },
			},
		})
		require.NoError(t, err)
		require.NotNil(t, done)
		assert.NotEmpty(t, summary)
		assert.LessOrEqual(t, len(summary), maxSummaryChars+3)
		assert.True(t, strings.HasSuffix(summary, "..."))
	})
}

func TestDeriveTitleAndSummary(t *testing.T) {
	t.Run("should take the first line capped at 100 chars", func(t *testing.T) {
		assert.Equal(t, "short", deriveTitle("short\nrest"))
		long := strings.Repeat("t", 150)
		assert.Len(t, deriveTitle(long), 100)
	})

	t.Run("should leave short summaries untouched", func(t *testing.T) {
		assert.Equal(t, "done", deriveSummary("done"))
	})

	t.Run("should flatten newlines in summaries", func(t *testing.T) {
		assert.Equal(t, "a b", deriveSummary("a\nb"))
	})
}

func agentThoughts(sink *[]string) Callbacks {
	return Callbacks{
		OnThoughts: func(text string) { *sink = append(*sink, text) },
	}
}
