// Package contextpipe keeps a growing conversation within a provider's
// context budget. Prepare applies four escalating stages: turn
// limiting, oversized-result pruning, soft trimming of individual
// messages, and hard clearing of whole messages. It is a pure
// function: no I/O, deterministic, and it never removes the leading
// system message.
package contextpipe

import (
	"fmt"

	"github.com/daneel/olivaw/pkg/chat"
)

// minBudgetTokens is the floor applied to ContextLimit-ReserveTokens so
// a misconfigured reserve can never starve the conversation entirely.
const minBudgetTokens = 1000

// Config holds the budget and trimming policy for one Prepare call.
type Config struct {
	// ContextLimit is the provider's total context window in tokens.
	ContextLimit int `json:"context_limit" mapstructure:"context_limit"`
	// ReserveTokens is headroom kept free for the model's output.
	ReserveTokens int `json:"reserve_tokens" mapstructure:"reserve_tokens"`
	// TokenDivisor is the characters-per-token heuristic divisor,
	// adjustable per provider. Zero means the default of 4.
	TokenDivisor int `json:"token_divisor" mapstructure:"token_divisor"`

	// MaxHistoryTurns caps retained user/assistant turn-pairs.
	// Zero means unlimited.
	MaxHistoryTurns int `json:"max_history_turns" mapstructure:"max_history_turns"`
	// ProtectedRecentMessages exempts the newest N messages from
	// pruning, soft trimming and hard clearing.
	ProtectedRecentMessages int `json:"protected_recent_messages" mapstructure:"protected_recent_messages"`

	// ToolResultMaxShare is the largest share of the budget (in
	// characters) a single message may occupy before pruning.
	ToolResultMaxShare float64 `json:"tool_result_max_share" mapstructure:"tool_result_max_share"`
	// ToolResultHardMaxChars is the absolute character ceiling for a
	// single message.
	ToolResultHardMaxChars int `json:"tool_result_hard_max_chars" mapstructure:"tool_result_hard_max_chars"`
	// ToolResultMinKeepChars is the minimum kept when pruning.
	ToolResultMinKeepChars int `json:"tool_result_min_keep_chars" mapstructure:"tool_result_min_keep_chars"`

	// SoftTrimThreshold triggers soft trimming once the estimate
	// exceeds this fraction of the budget.
	SoftTrimThreshold float64 `json:"soft_trim_threshold" mapstructure:"soft_trim_threshold"`
	// HardClearThreshold triggers whole-message dropping once the
	// estimate exceeds this fraction of the budget.
	HardClearThreshold float64 `json:"hard_clear_threshold" mapstructure:"hard_clear_threshold"`
	// SoftTrimMinChars is the minimum length a message must have to be
	// soft-trimmed; SoftTrimKeepChars is what remains afterwards.
	SoftTrimMinChars  int `json:"soft_trim_min_chars" mapstructure:"soft_trim_min_chars"`
	SoftTrimKeepChars int `json:"soft_trim_keep_chars" mapstructure:"soft_trim_keep_chars"`
}

// DefaultConfig returns the standard policy for a provider context
// limit.
func DefaultConfig(contextLimit int) Config {
	return Config{
		ContextLimit:            contextLimit,
		ReserveTokens:           8192,
		TokenDivisor:            4,
		MaxHistoryTurns:         0,
		ProtectedRecentMessages: 4,
		ToolResultMaxShare:      0.3,
		ToolResultHardMaxChars:  30000,
		ToolResultMinKeepChars:  500,
		SoftTrimThreshold:       0.75,
		HardClearThreshold:      0.9,
		SoftTrimMinChars:        2000,
		SoftTrimKeepChars:       800,
	}
}

// Result is the trimmed message list plus diagnostics for telemetry.
// EstimatedTokens is the heuristic estimate of Messages, not an exact
// token count.
type Result struct {
	Messages        []chat.Message
	EstimatedTokens int
	Trimmed         bool
	Pruned          bool
}

// Budget returns the usable input budget in tokens for cfg, floored at
// minBudgetTokens.
func (c Config) Budget() int {
	b := c.ContextLimit - c.ReserveTokens
	if b < minBudgetTokens {
		b = minBudgetTokens
	}
	return b
}

func (c Config) divisor() int {
	if c.TokenDivisor <= 0 {
		return defaultTokenDivisor
	}
	return c.TokenDivisor
}

// Prepare trims msgs to fit cfg's budget. The input slice is never
// mutated; the returned messages are fresh copies where content
// changed.
func Prepare(msgs []chat.Message, cfg Config) Result {
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)

	res := Result{}
	budget := cfg.Budget()
	div := cfg.divisor()

	// Stage 1: turn limiting. A retention cap is policy, not a budget
	// reaction, so it applies whenever configured.
	if cfg.MaxHistoryTurns > 0 {
		out = limitTurns(out, cfg.MaxHistoryTurns)
	}

	estimate := EstimateTokens(out, div)

	// Stage 2: prune oversized messages while over budget.
	if estimate > budget {
		maxChars := maxMessageChars(cfg, budget, div)
		for i := range out {
			if protected(out, i, cfg.ProtectedRecentMessages) {
				continue
			}
			text := out[i].Text()
			if len(text) <= maxChars {
				continue
			}
			out[i] = out[i].WithText(pruneText(text, maxChars, cfg.ToolResultMinKeepChars))
			res.Pruned = true
		}
		estimate = EstimateTokens(out, div)
	}

	// Stage 3: soft trim, oldest first, until back under threshold.
	softLimit := int(cfg.SoftTrimThreshold * float64(budget))
	if cfg.SoftTrimThreshold > 0 && estimate > softLimit {
		for i := range out {
			if estimate <= softLimit {
				break
			}
			if protected(out, i, cfg.ProtectedRecentMessages) {
				continue
			}
			text := out[i].Text()
			if len(text) <= cfg.SoftTrimMinChars || len(text) <= cfg.SoftTrimKeepChars {
				continue
			}
			out[i] = out[i].WithText(text[:cfg.SoftTrimKeepChars] + softTrimMarker)
			res.Trimmed = true
			estimate = EstimateTokens(out, div)
		}
	}

	// Stage 4: hard clear whole messages, oldest first.
	hardLimit := int(cfg.HardClearThreshold * float64(budget))
	if cfg.HardClearThreshold > 0 && estimate > hardLimit {
		for estimate > hardLimit {
			idx := oldestClearable(out, cfg.ProtectedRecentMessages)
			if idx < 0 {
				break // only protected messages remain
			}
			out = append(out[:idx], out[idx+1:]...)
			res.Trimmed = true
			estimate = EstimateTokens(out, div)
		}
	}

	res.Messages = out
	res.EstimatedTokens = estimate
	return res
}

const softTrimMarker = "\n[... truncated]"

// maxMessageChars is the per-message character ceiling for stage 2.
func maxMessageChars(cfg Config, budget, divisor int) int {
	shareChars := int(cfg.ToolResultMaxShare * float64(budget*divisor))
	max := cfg.ToolResultHardMaxChars
	if shareChars > 0 && shareChars < max {
		max = shareChars
	}
	if max < cfg.ToolResultMinKeepChars {
		max = cfg.ToolResultMinKeepChars
	}
	return max
}

// pruneText cuts text so that the kept prefix plus the removal marker
// fits within maxChars, keeping at least minKeep characters. The result
// never grows on a second pass, which keeps Prepare idempotent.
func pruneText(text string, maxChars, minKeep int) string {
	marker := fmt.Sprintf("\n[... %d chars removed]", len(text)-maxChars)
	kept := maxChars - len(marker)
	if kept < minKeep {
		kept = minKeep
	}
	if kept > len(text) {
		kept = len(text)
	}
	return text[:kept] + marker
}

// protected reports whether index i falls in the exempt tail or is the
// leading system message.
func protected(msgs []chat.Message, i, recent int) bool {
	if i == 0 && msgs[0].Role == chat.RoleSystem {
		return true
	}
	return i >= len(msgs)-recent
}

// oldestClearable returns the index of the oldest message that stage 4
// may drop, or -1 when only protected messages remain.
func oldestClearable(msgs []chat.Message, recent int) int {
	for i := range msgs {
		if !protected(msgs, i, recent) {
			return i
		}
	}
	return -1
}

// limitTurns keeps the most recent maxTurns completed user/assistant
// turn-pairs plus any trailing user message that has no response yet.
// The leading system message always survives.
func limitTurns(msgs []chat.Message, maxTurns int) []chat.Message {
	var head []chat.Message
	rest := msgs
	if len(msgs) > 0 && msgs[0].Role == chat.RoleSystem {
		head = msgs[:1]
		rest = msgs[1:]
	}

	// Segment the conversation at user messages: each segment is one
	// user turn plus everything up to the next user message, including
	// interleaved tool traffic belonging to that response.
	type segment struct {
		start, end int // [start, end)
		complete   bool
	}
	var segs []segment
	for i := 0; i < len(rest); i++ {
		if rest[i].Role != chat.RoleUser && len(segs) == 0 {
			// Stray non-user prefix (e.g. assistant greeting); treat
			// it as its own completed segment so it can age out.
			segs = append(segs, segment{start: i, end: i + 1, complete: true})
			continue
		}
		if rest[i].Role == chat.RoleUser {
			segs = append(segs, segment{start: i, end: i + 1})
			continue
		}
		last := &segs[len(segs)-1]
		last.end = i + 1
		if rest[i].Role == chat.RoleAssistant {
			last.complete = true
		}
	}

	// Walk backwards keeping trailing incomplete segments for free and
	// up to maxTurns completed pairs.
	keepFrom := len(segs)
	completed := 0
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].complete {
			if completed == maxTurns {
				break
			}
			completed++
		}
		keepFrom = i
	}

	out := make([]chat.Message, 0, len(msgs))
	out = append(out, head...)
	for _, s := range segs[keepFrom:] {
		out = append(out, rest[s.start:s.end]...)
	}
	return out
}
