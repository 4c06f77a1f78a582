package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/daneel/olivaw/internal/observability"
	"github.com/daneel/olivaw/internal/tracing"
	"github.com/daneel/olivaw/pkg/chat"
	"github.com/daneel/olivaw/pkg/commandqueue"
	"github.com/daneel/olivaw/pkg/contextpipe"
	"github.com/daneel/olivaw/pkg/toolbridge"
)

const (
	// defaultContextWindow applies when the registry does not know the
	// model's window.
	defaultContextWindow = 131072
	// minUsableWindow is the smallest window worth attempting; smaller
	// candidates are skipped outright.
	minUsableWindow = 16384
	// cautionWindow triggers a warning but still attempts the candidate.
	cautionWindow = 32768

	// maxSteps bounds the completion/tool loop per candidate.
	maxSteps = 25
)

const (
	overflowFallback = "The conversation has grown too large for the model's context window, even after trimming. Please start a new conversation or clear some history."
	genericFallback  = "I wasn't able to get a response from any configured model provider. Please check provider credentials and try again."
)

// EngineConfig tunes the run loop.
type EngineConfig struct {
	MaxSteps        int                 `json:"max_steps" mapstructure:"max_steps"`
	MaxHistoryTurns int                 `json:"max_history_turns" mapstructure:"max_history_turns"`
	Pipeline        *contextpipe.Config `json:"pipeline,omitempty" mapstructure:"pipeline"`

	// RunTimeout bounds one whole run across all candidates. It composes
	// with the caller's context; whichever fires first wins. Zero means
	// no engine-side deadline.
	RunTimeout time.Duration `json:"run_timeout" mapstructure:"run_timeout"`
}

// DefaultEngineConfig returns the standard loop policy.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxSteps: maxSteps}
}

// Engine drives agent runs: candidate resolution, context preparation,
// the completion/tool loop, and failover.
type Engine struct {
	resolver *Resolver
	queue    *commandqueue.Queue
	cfg      EngineConfig
}

// NewEngine creates an Engine. queue may be nil, in which case runs are
// not serialized per session.
func NewEngine(resolver *Resolver, queue *commandqueue.Queue, cfg EngineConfig) *Engine {
	observability.EnsureRegistered()

	if cfg.MaxSteps <= 0 || cfg.MaxSteps > maxSteps {
		cfg.MaxSteps = maxSteps
	}
	return &Engine{resolver: resolver, queue: queue, cfg: cfg}
}

// Run executes one agent run. Runs sharing a SessionID are serialized
// through the session's queue lane.
func (e *Engine) Run(ctx context.Context, in RunInput) (RunResult, error) {
	if e.queue == nil || in.SessionID == "" {
		return e.run(ctx, in)
	}

	lane := "session:" + in.SessionID
	value, err := e.queue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (any, error) {
		result, runErr := e.run(taskCtx, in)
		return result, runErr
	}, nil)
	if result, ok := value.(RunResult); ok {
		return result, err
	}
	return RunResult{FinishReason: FinishError}, err
}

func (e *Engine) run(ctx context.Context, in RunInput) (RunResult, error) {
	start := time.Now()

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	if in.SessionID != "" {
		ctx = tracing.WithSessionID(ctx, in.SessionID)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"olivaw.agent",
		"agent.run",
		attribute.String("session_id", in.SessionID),
		attribute.String("agent_id", in.AgentID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	candidates, err := e.resolver.Resolve(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{FinishReason: FinishError, Text: genericFallback}, err
	}

	var bridge *toolbridge.Bridge
	if in.Catalog != nil {
		opts := []toolbridge.Option{
			toolbridge.WithPolicy(in.ToolPolicy),
			toolbridge.WithEvents(toolbridge.Events{
				OnStart:      in.Callbacks.OnToolStart,
				OnEnd:        in.Callbacks.OnToolEnd,
				OnUserOutput: in.Callbacks.OnToolUserOutput,
			}),
		}
		if in.ToolTimeout > 0 {
			opts = append(opts, toolbridge.WithTimeout(in.ToolTimeout))
		}
		bridge = toolbridge.New(in.Catalog, opts...)
	}

	// Rate-limited providers stay skipped for the remainder of this
	// request, across all later failovers. The set is request-scoped,
	// never shared across runs.
	rateLimited := make(map[string]bool)

	var lastKind string
	var lastErr error

	for i, exec := range candidates {
		if rateLimited[exec.ProviderID] {
			logger.Debug().Str("candidate", exec.key()).Msg("Skipping rate-limited provider")
			continue
		}

		window := exec.ContextWindow
		if window <= 0 {
			window = defaultContextWindow
		}
		if window < minUsableWindow {
			logger.Warn().
				Str("candidate", exec.key()).
				Int("context_window", window).
				Msg("Context window too small, skipping candidate")
			continue
		}
		if window < cautionWindow {
			logger.Warn().
				Str("candidate", exec.key()).
				Int("context_window", window).
				Msg("Context window is small, long conversations will degrade")
		}

		if i > 0 {
			observability.RecordFailover(exec.ProviderID)
		}

		result, runErr := e.attempt(ctx, in, exec, window, bridge, rateLimited)
		if runErr == nil {
			result.Steps = max(result.Steps, 1)
			observability.RecordRun(exec.ProviderID, result.FinishReason, result.Steps, time.Since(start))
			if in.Callbacks.OnDone != nil {
				in.Callbacks.OnDone(result)
			}
			return result, nil
		}

		kind := errorKind(runErr)
		observability.RecordRunError(exec.ProviderID, kind)
		lastErr = runErr
		lastKind = kind

		switch kind {
		case "abort":
			logger.Info().Str("candidate", exec.key()).Msg("Run aborted")
			result := RunResult{
				FinishReason: FinishAbort,
				ProviderID:   exec.ProviderID,
				ModelID:      exec.ModelID,
			}
			observability.RecordRun(exec.ProviderID, FinishAbort, 1, time.Since(start))
			if in.Callbacks.OnDone != nil {
				in.Callbacks.OnDone(result)
			}
			return result, runErr
		case "rate_limit":
			rateLimited[exec.ProviderID] = true
			e.resolver.reportRateLimit(exec.ProviderID)
			observability.SetProviderRateLimited(exec.ProviderID, true)
			logger.Warn().Str("candidate", exec.key()).Msg("Provider rate limited, failing over")
		case "overflow":
			e.resolver.reportFailure(exec.ProfileID)
			logger.Warn().Str("candidate", exec.key()).Msg("Context overflow despite trimming, failing over")
		default:
			e.resolver.reportFailure(exec.ProfileID)
			logger.Warn().Str("candidate", exec.key()).Err(runErr).Msg("Candidate failed, failing over")
		}
	}

	// The fallback text reflects the last recorded failure: an earlier
	// overflow superseded by a transient error is not an overflow run.
	text := genericFallback
	if lastKind == "overflow" {
		text = overflowFallback
	}
	result := RunResult{Text: text, FinishReason: FinishError}
	span.SetStatus(codes.Error, "all candidates exhausted")
	if lastErr != nil {
		span.RecordError(lastErr)
	}
	if in.Callbacks.OnDone != nil {
		in.Callbacks.OnDone(result)
	}
	return result, fmt.Errorf("all completion candidates exhausted: %w", lastErr)
}

// attempt runs the completion/tool loop against one candidate. Any
// returned error means the candidate is abandoned; the caller decides
// whether another candidate gets a try.
func (e *Engine) attempt(
	ctx context.Context,
	in RunInput,
	exec CompletionExecution,
	window int,
	bridge *toolbridge.Bridge,
	rateLimited map[string]bool,
) (RunResult, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	pipeCfg := e.pipelineConfig(window)
	prepared := contextpipe.Prepare(in.Messages, pipeCfg)
	if prepared.Pruned {
		observability.RecordContextTrim("prune")
	}
	if prepared.Trimmed {
		observability.RecordContextTrim("trim")
	}

	history := contextpipe.Normalize(exec.ProviderID, prepared.Messages)

	convo := make([]chat.RichMessage, 0, len(history)+8)
	for _, m := range history {
		convo = append(convo, chat.Plain(m))
	}

	var (
		tools    []ToolSpec
		invokers map[string]toolbridge.Invoker
	)
	if bridge != nil {
		for _, tool := range bridge.Tools() {
			tools = append(tools, ToolSpec{
				Name:        tool.ID,
				Description: tool.Description,
				InputSchema: tool.Schema,
			})
		}
		invokers = bridge.Build()
	}

	result := RunResult{
		ProviderID: exec.ProviderID,
		ModelID:    exec.ModelID,
	}

	logger.Debug().
		Str("provider", exec.ProviderID).
		Str("model", exec.ModelID).
		Int("context_window", window).
		Int("estimated_tokens", prepared.EstimatedTokens).
		Int("tools", len(tools)).
		Msg("Starting completion loop")

	for step := 0; step < e.cfg.MaxSteps; step++ {
		resp, err := exec.Client.Complete(ctx, CompletionRequest{
			Model:       exec.ModelID,
			System:      in.System,
			Messages:    convo,
			Tools:       tools,
			MaxTokens:   in.MaxTokens,
			Temperature: in.Temperature,
		})
		if err != nil {
			return RunResult{}, err
		}
		result.Steps = step + 1

		if resp.Content != "" {
			if result.Title == "" {
				result.Title = deriveTitle(resp.Content)
				if result.Title != "" && in.Callbacks.OnTitle != nil {
					in.Callbacks.OnTitle(result.Title)
				}
			}
			result.Text = resp.Content
			// Every step's text surfaces as a thought, the final answer
			// included. Subscribers decide what to show.
			if in.Callbacks.OnThoughts != nil {
				in.Callbacks.OnThoughts(resp.Content)
			}
		}

		if len(resp.ToolCalls) == 0 {
			result.FinishReason = resp.FinishReason
			if result.FinishReason == "" {
				result.FinishReason = FinishStop
			}
			convo = append(convo, chat.RichMessage{
				Message: chat.Message{Role: chat.RoleAssistant, Content: resp.Content},
			})
			break
		}

		convo = append(convo, chat.RichMessage{
			Message:   chat.Message{Role: chat.RoleAssistant, Content: resp.Content},
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result.ToolCalls++

			output, err := e.executeToolCall(ctx, invokers, call)
			if err != nil {
				output = fmt.Sprintf("Error: %v", err)
			}
			convo = append(convo, chat.RichMessage{
				Message:    chat.Message{Role: chat.RoleTool, Content: output},
				ToolCallID: call.ID,
			})
		}
	}

	if result.FinishReason == "" {
		// Step ceiling reached mid-loop.
		logger.Warn().
			Str("provider", exec.ProviderID).
			Int("steps", result.Steps).
			Msg("Step ceiling reached before completion")
		result.FinishReason = FinishStop
		if result.Text == "" {
			result.Text = "I ran out of steps before finishing. The work so far is reflected in the tool activity above."
		}
	}

	result.Summary = deriveSummary(result.Text)
	if result.Summary != "" && in.Callbacks.OnSummary != nil {
		in.Callbacks.OnSummary(result.Summary)
	}
	result.Messages = convo

	return result, nil
}

func (e *Engine) executeToolCall(ctx context.Context, invokers map[string]toolbridge.Invoker, call chat.ToolCall) (string, error) {
	if invokers == nil {
		return "", fmt.Errorf("no tools available")
	}
	invoke, ok := invokers[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	return invoke(ctx, call.Arguments)
}

// pipelineConfig derives the context preparation policy for a window,
// layering any configured overrides on the defaults.
func (e *Engine) pipelineConfig(window int) contextpipe.Config {
	cfg := contextpipe.DefaultConfig(window)
	if e.cfg.Pipeline != nil {
		override := *e.cfg.Pipeline
		override.ContextLimit = window
		if override.ReserveTokens <= 0 {
			override.ReserveTokens = cfg.ReserveTokens
		}
		cfg = override
	}
	if e.cfg.MaxHistoryTurns > 0 {
		cfg.MaxHistoryTurns = e.cfg.MaxHistoryTurns
	}
	return cfg
}
