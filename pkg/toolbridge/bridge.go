package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/daneel/olivaw/internal/observability"
	"github.com/daneel/olivaw/internal/tracing"
)

const (
	defaultTimeout = 60 * time.Second
	maxOutputBytes = 10 * 1024
)

// Events receives lifecycle notifications for tool invocations. All
// fields are optional.
type Events struct {
	OnStart      func(action Action)
	OnEnd        func(action Action)
	OnUserOutput func(toolID string, output string)
}

// Invoker executes one named tool with already-decoded arguments and
// returns the model-facing output.
type Invoker func(ctx context.Context, args map[string]any) (string, error)

// Bridge exposes a tool catalog to the agent loop as a name-to-Invoker
// map, enforcing policy, validating arguments, and tracking actions.
type Bridge struct {
	catalog Catalog
	policy  *Policy
	events  Events
	timeout time.Duration
	tracker *tracker

	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPolicy sets the allow/deny policy.
func WithPolicy(p *Policy) Option {
	return func(b *Bridge) { b.policy = p }
}

// WithEvents sets the lifecycle callbacks.
func WithEvents(e Events) Option {
	return func(b *Bridge) { b.events = e }
}

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New creates a Bridge over the catalog.
func New(catalog Catalog, opts ...Option) *Bridge {
	observability.EnsureRegistered()

	b := &Bridge{
		catalog: catalog,
		timeout: defaultTimeout,
		tracker: newTracker(),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tools returns the catalog entries the policy permits, in catalog
// order. This is what gets advertised to the model.
func (b *Bridge) Tools() []Tool {
	all := b.catalog.Tools()
	allowed := make([]Tool, 0, len(all))
	for _, tool := range all {
		if b.policy.Allowed(tool.ID) {
			allowed = append(allowed, tool)
		}
	}
	return allowed
}

// Build returns the invoker map for the permitted tools. Tools the
// policy denies are absent, so a model call naming one fails the same
// way an unknown tool does.
func (b *Bridge) Build() map[string]Invoker {
	invokers := make(map[string]Invoker)
	for _, tool := range b.Tools() {
		tool := tool
		invokers[tool.ID] = func(ctx context.Context, args map[string]any) (string, error) {
			return b.invoke(ctx, tool, args)
		}
	}

	log.Debug().Int("tools", len(invokers)).Msg("Tool invokers built")
	return invokers
}

func (b *Bridge) invoke(ctx context.Context, tool Tool, args map[string]any) (string, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "olivaw.toolbridge", "toolbridge.invoke")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	actionID := b.tracker.Begin(tool.ID)
	action := Action{
		ID:          actionID,
		Name:        tool.DisplayName(),
		Description: tool.Description,
		ToolID:      tool.ID,
		Arguments:   args,
		Status:      ActionRunning,
	}
	if b.events.OnStart != nil {
		b.events.OnStart(action)
	}

	finish := func(output string, err error) (string, error) {
		completed := action
		completed.ID = b.tracker.End(tool.ID)
		if completed.ID == "" {
			completed.ID = actionID
		}
		if err != nil {
			completed.Status = ActionError
			completed.Error = err.Error()
		} else {
			completed.Status = ActionDone
			completed.Result = output
		}
		if b.events.OnEnd != nil {
			b.events.OnEnd(completed)
		}
		observability.RecordToolExecution(tool.ID, time.Since(start), err == nil)
		return output, err
	}

	if err := b.validateArgs(tool, args); err != nil {
		logger.Error().Str("tool", tool.ID).Err(err).Msg("Argument validation failed")
		return finish("", err)
	}

	logger.Debug().Str("tool", tool.ID).Str("action_id", actionID).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resultChan := make(chan Result, 1)
	go func() {
		resultChan <- tool.Execute(timeoutCtx, args)
	}()

	select {
	case result := <-resultChan:
		if result.Err != nil {
			logger.Error().Str("tool", tool.ID).Err(result.Err).Msg("Tool execution failed")
			return finish("", result.Err)
		}
		if result.ForUser != "" && b.events.OnUserOutput != nil {
			b.events.OnUserOutput(tool.ID, result.ForUser)
		}
		output, truncated := truncateOutput(result.Output)
		logger.Debug().
			Str("tool", tool.ID).
			Dur("duration", time.Since(start)).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return finish(output, nil)

	case <-timeoutCtx.Done():
		err := timeoutCtx.Err()
		if err == context.DeadlineExceeded {
			err = fmt.Errorf("tool execution timeout after %v", b.timeout)
		}
		logger.Error().Str("tool", tool.ID).Err(err).Msg("Tool execution aborted")
		return finish("", err)
	}
}

// validateArgs checks args against the tool's JSON Schema, compiling
// the schema once per tool.
func (b *Bridge) validateArgs(tool Tool, args map[string]any) error {
	if tool.Schema == nil {
		return nil
	}

	b.mu.RLock()
	schema := b.schemas[tool.ID]
	b.mu.RUnlock()

	if schema == nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %s: %w", tool.ID, err)
		}
		b.mu.Lock()
		b.schemas[tool.ID] = compiled
		b.mu.Unlock()
		schema = compiled
	}

	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return fmt.Errorf("invalid arguments: %v", details)
	}
	return nil
}

// DecodeArgs parses a raw JSON arguments payload. Empty input decodes
// to an empty map.
func DecodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	return args, nil
}

func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputBytes {
		return output, false
	}
	return output[:maxOutputBytes] + "\n... [output truncated]", true
}
