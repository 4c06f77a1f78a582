package agent

import (
	"strings"
	"time"

	"github.com/daneel/olivaw/pkg/chat"
	"github.com/daneel/olivaw/pkg/toolbridge"
)

// ToolSpec describes one tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionRequest is a provider-neutral completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []chat.RichMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse is a provider-neutral completion result.
type CompletionResponse struct {
	Content      string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

// CompletionExecution is one resolved candidate for serving a run: a
// concrete client bound to a provider, model, and credential. The
// resolver produces these in priority order; the engine consumes them.
type CompletionExecution struct {
	ProviderID    string
	ModelID       string
	ProfileID     string
	Proxied       bool
	ContextWindow int
	Client        ModelClient
}

// key identifies the candidate inside one request's skip set.
func (e CompletionExecution) key() string {
	return e.ProviderID + "/" + e.ModelID + "/" + e.ProfileID
}

// Callbacks receives progress events during a run. All fields are
// optional; nil callbacks are skipped.
type Callbacks struct {
	OnTitle          func(title string)
	OnThoughts       func(text string)
	OnToolStart      func(action toolbridge.Action)
	OnToolEnd        func(action toolbridge.Action)
	OnToolUserOutput func(toolID, output string)
	OnSummary        func(summary string)
	OnDone           func(result RunResult)
}

// RunInput describes one agent run.
type RunInput struct {
	SessionID string
	AgentID   string
	System    string
	Messages  []chat.Message

	// ModelPin forces a specific model id, overriding provider
	// selection. Empty means no pin.
	ModelPin string

	Catalog    toolbridge.Catalog
	ToolPolicy *toolbridge.Policy
	// ToolTimeout overrides the bridge's per-invocation timeout when
	// positive.
	ToolTimeout time.Duration

	MaxTokens   int
	Temperature float64

	Callbacks Callbacks
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	Text         string
	Title        string
	Summary      string
	Steps        int
	ToolCalls    int
	FinishReason string
	ProviderID   string
	ModelID      string
	Messages     []chat.RichMessage
}

const (
	FinishStop  = "stop"
	FinishError = "error"
	FinishAbort = "abort"
)

const (
	maxTitleChars   = 100
	maxSummaryChars = 260
)

// deriveTitle takes the first line of the first non-empty text and
// caps it at 100 characters.
func deriveTitle(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if len(line) > maxTitleChars {
		line = strings.TrimSpace(line[:maxTitleChars])
	}
	return line
}

// deriveSummary caps text at 260 characters, appending an ellipsis
// when it had to cut.
func deriveSummary(text string) string {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxSummaryChars {
		return s
	}
	return strings.TrimSpace(s[:maxSummaryChars]) + "..."
}
