// Package toolbridge turns an external tool catalog into callable
// functions for the agent loop, tracking every invocation's lifecycle
// for observability.
package toolbridge

import "context"

// Result is the outcome of one tool execution. Output is fed back to
// the model; ForUser is a side channel shown to the user immediately
// and never enters the model context. The two are distinct on purpose.
type Result struct {
	Output  string
	ForUser string
	Err     error
}

// Tool is one catalog entry. Schema is a JSON Schema document for the
// arguments object; a nil schema skips validation.
type Tool struct {
	ID          string
	Title       string
	Description string
	Schema      map[string]any
	Execute     func(ctx context.Context, args map[string]any) Result
}

// DisplayName returns the human-facing name, falling back to the id.
func (t Tool) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return t.ID
}

// Catalog enumerates available tools. Implementations live outside the
// core (plugin systems, MCP hosts); the bridge only consumes them.
type Catalog interface {
	Tools() []Tool
}

// StaticCatalog is a fixed tool list.
type StaticCatalog []Tool

// Tools implements Catalog.
func (c StaticCatalog) Tools() []Tool { return c }

// Policy is an allow/deny filter over tool ids. Deny overrides allow;
// "*" matches everything. A nil policy allows all tools; a non-nil
// policy with no matching allow entry denies.
type Policy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Allowed reports whether the policy permits the tool id.
func (p *Policy) Allowed(id string) bool {
	if p == nil {
		return true
	}
	for _, denied := range p.Deny {
		if denied == id || denied == "*" {
			return false
		}
	}
	for _, allowed := range p.Allow {
		if allowed == id || allowed == "*" {
			return true
		}
	}
	return false
}

// ActionStatus is the lifecycle state of one invocation.
type ActionStatus string

const (
	ActionRunning ActionStatus = "running"
	ActionDone    ActionStatus = "done"
	ActionError   ActionStatus = "error"
)

// Action is the record of one tool invocation: created at start,
// mutated exactly once to a terminal status, never reused.
type Action struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ToolID      string         `json:"tool_id"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Status      ActionStatus   `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}
