package chat

import "strings"

// Roles used across the engine. Providers may report additional roles;
// the pipeline only reasons about these four.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part is one segment of a multi-part message: either text or an
// inline image.
type Part struct {
	Text string `json:"text,omitempty"`
	MIME string `json:"mime,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// IsImage reports whether the part carries inline image bytes.
func (p Part) IsImage() bool {
	return p.MIME != "" && len(p.Data) > 0
}

// Message is one conversational turn. Content holds plain text; Parts,
// when non-empty, holds an ordered sequence of text and image parts and
// takes precedence over Content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Text returns the textual content of the message, flattening parts in
// order. Image parts contribute nothing.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// WithText returns a copy of the message with its textual content
// replaced. A multi-part message collapses to a single text part so the
// part ordering invariant is preserved trivially.
func (m Message) WithText(text string) Message {
	out := Message{Role: m.Role, Content: text}
	return out
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// RichMessage is the history-reconstruction superset of Message: a
// plain message, an assistant turn carrying tool calls, or a tool
// result referencing the call it answers. Produced only as loop
// output, never consumed as loop input.
type RichMessage struct {
	Message
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Plain wraps a Message into a RichMessage with no tool structure.
func Plain(m Message) RichMessage {
	return RichMessage{Message: m}
}
