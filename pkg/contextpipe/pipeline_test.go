package contextpipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daneel/olivaw/pkg/chat"
)

func msg(role, content string) chat.Message {
	return chat.Message{Role: role, Content: content}
}

func TestBudget(t *testing.T) {
	t.Run("should subtract reserve from context limit", func(t *testing.T) {
		cfg := Config{ContextLimit: 100000, ReserveTokens: 8192}
		assert.Equal(t, 91808, cfg.Budget())
	})

	t.Run("should floor the budget at the minimum", func(t *testing.T) {
		cfg := Config{ContextLimit: 4000, ReserveTokens: 8192}
		assert.Equal(t, minBudgetTokens, cfg.Budget())
	})
}

func TestEstimateTokens(t *testing.T) {
	t.Run("should divide total characters by the divisor", func(t *testing.T) {
		msgs := []chat.Message{
			msg(chat.RoleUser, strings.Repeat("a", 100)),
			msg(chat.RoleAssistant, strings.Repeat("b", 100)),
		}
		assert.Equal(t, 50, EstimateTokens(msgs, 4))
	})
}

func TestPrepareTurnLimiting(t *testing.T) {
	t.Run("should keep only the latest turn pair plus the new user message", func(t *testing.T) {
		cfg := DefaultConfig(200000)
		cfg.MaxHistoryTurns = 1

		msgs := []chat.Message{
			msg(chat.RoleSystem, "be brief"),
			msg(chat.RoleUser, "first question"),
			msg(chat.RoleAssistant, "first answer"),
			msg(chat.RoleUser, "second question"),
			msg(chat.RoleAssistant, "second answer"),
			msg(chat.RoleUser, "third question"),
		}
		res := Prepare(msgs, cfg)

		require.Len(t, res.Messages, 4)
		assert.Equal(t, "be brief", res.Messages[0].Content)
		assert.Equal(t, "second question", res.Messages[1].Content)
		assert.Equal(t, "second answer", res.Messages[2].Content)
		assert.Equal(t, "third question", res.Messages[3].Content)
	})

	t.Run("should keep tool traffic attached to its turn", func(t *testing.T) {
		cfg := DefaultConfig(200000)
		cfg.MaxHistoryTurns = 1

		msgs := []chat.Message{
			msg(chat.RoleUser, "old question"),
			msg(chat.RoleAssistant, "old answer"),
			msg(chat.RoleUser, "new question"),
			msg(chat.RoleTool, "tool output"),
			msg(chat.RoleAssistant, "new answer"),
		}
		res := Prepare(msgs, cfg)

		require.Len(t, res.Messages, 3)
		assert.Equal(t, "new question", res.Messages[0].Content)
		assert.Equal(t, "tool output", res.Messages[1].Content)
		assert.Equal(t, "new answer", res.Messages[2].Content)
	})

	t.Run("should not limit turns when unconfigured", func(t *testing.T) {
		cfg := DefaultConfig(200000)

		msgs := []chat.Message{
			msg(chat.RoleUser, "one"),
			msg(chat.RoleAssistant, "two"),
			msg(chat.RoleUser, "three"),
		}
		res := Prepare(msgs, cfg)
		assert.Len(t, res.Messages, 3)
	})
}

func TestPreparePruning(t *testing.T) {
	t.Run("should prune an oversized old message when over budget", func(t *testing.T) {
		// Window 20000, reserve 8192: budget 11808 tokens = 47232 chars.
		cfg := DefaultConfig(20000)

		big := strings.Repeat("x", 50000)
		msgs := []chat.Message{
			msg(chat.RoleSystem, "sys"),
			msg(chat.RoleTool, big),
			msg(chat.RoleUser, "a"),
			msg(chat.RoleUser, "b"),
			msg(chat.RoleUser, "c"),
			msg(chat.RoleUser, "recent"),
		}
		res := Prepare(msgs, cfg)

		assert.True(t, res.Pruned)
		pruned := res.Messages[1].Content
		assert.Less(t, len(pruned), len(big))
		assert.Contains(t, pruned, "chars removed]")
	})

	t.Run("should never touch the leading system message", func(t *testing.T) {
		cfg := DefaultConfig(20000)
		cfg.ProtectedRecentMessages = 0

		sys := strings.Repeat("s", 40000)
		msgs := []chat.Message{
			msg(chat.RoleSystem, sys),
			msg(chat.RoleUser, strings.Repeat("u", 40000)),
		}
		res := Prepare(msgs, cfg)

		assert.Equal(t, sys, res.Messages[0].Content)
	})

	t.Run("should not prune protected recent messages", func(t *testing.T) {
		cfg := DefaultConfig(20000)
		cfg.ProtectedRecentMessages = 2

		recent := strings.Repeat("r", 40000)
		msgs := []chat.Message{
			msg(chat.RoleUser, strings.Repeat("x", 40000)),
			msg(chat.RoleAssistant, "ok"),
			msg(chat.RoleUser, recent),
		}
		res := Prepare(msgs, cfg)

		assert.Equal(t, recent, res.Messages[2].Content)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		cfg := DefaultConfig(20000)

		msgs := []chat.Message{
			msg(chat.RoleSystem, "sys"),
			msg(chat.RoleTool, strings.Repeat("x", 50000)),
			msg(chat.RoleUser, "a"),
			msg(chat.RoleUser, "b"),
			msg(chat.RoleUser, "c"),
			msg(chat.RoleUser, "d"),
		}
		first := Prepare(msgs, cfg)
		second := Prepare(first.Messages, cfg)

		assert.Equal(t, first.Messages, second.Messages)
	})
}

func TestPrepareSoftTrim(t *testing.T) {
	// Budget 4000 tokens; soft trimming kicks in above 2000, hard
	// clearing only above 3800. Stage 2 is effectively disabled by the
	// generous per-message ceiling.
	softCfg := Config{
		ContextLimit:            5000,
		ReserveTokens:           1000,
		TokenDivisor:            4,
		ProtectedRecentMessages: 1,
		ToolResultMaxShare:      1.0,
		ToolResultHardMaxChars:  100000,
		ToolResultMinKeepChars:  500,
		SoftTrimThreshold:       0.5,
		HardClearThreshold:      0.95,
		SoftTrimMinChars:        2000,
		SoftTrimKeepChars:       800,
	}

	t.Run("should trim oldest first and stop once under the threshold", func(t *testing.T) {
		msgs := []chat.Message{
			msg(chat.RoleSystem, "sys"),
			msg(chat.RoleAssistant, strings.Repeat("a", 6000)),
			msg(chat.RoleAssistant, strings.Repeat("b", 6000)),
			msg(chat.RoleUser, "latest question"),
		}
		res := Prepare(msgs, softCfg)

		assert.True(t, res.Trimmed)
		assert.False(t, res.Pruned)
		require.Len(t, res.Messages, 4)

		// Trimming the oldest message already brings the estimate under
		// the threshold, so the second one survives intact.
		assert.Equal(t, strings.Repeat("a", 800)+"\n[... truncated]", res.Messages[1].Content)
		assert.Equal(t, strings.Repeat("b", 6000), res.Messages[2].Content)
		assert.Equal(t, "latest question", res.Messages[3].Content)
		assert.LessOrEqual(t, res.EstimatedTokens, 2000)
	})

	t.Run("should keep trimming while still over the threshold", func(t *testing.T) {
		msgs := []chat.Message{
			msg(chat.RoleSystem, "sys"),
			msg(chat.RoleAssistant, strings.Repeat("s", 1500)),
			msg(chat.RoleAssistant, strings.Repeat("a", 6000)),
			msg(chat.RoleAssistant, strings.Repeat("b", 6000)),
			msg(chat.RoleUser, "latest question"),
		}
		res := Prepare(msgs, softCfg)

		assert.True(t, res.Trimmed)
		// Messages at or under the minimum length are never trimmed even
		// when they are older than the trimmed ones.
		assert.Equal(t, strings.Repeat("s", 1500), res.Messages[1].Content)
		assert.Contains(t, res.Messages[2].Content, "[... truncated]")
		assert.Contains(t, res.Messages[3].Content, "[... truncated]")
		assert.LessOrEqual(t, res.EstimatedTokens, 2000)
	})

	t.Run("should leave the protected tail alone even while over the threshold", func(t *testing.T) {
		recent := strings.Repeat("r", 9000)
		msgs := []chat.Message{
			msg(chat.RoleSystem, "sys"),
			msg(chat.RoleAssistant, strings.Repeat("a", 6000)),
			msg(chat.RoleUser, recent),
		}
		res := Prepare(msgs, softCfg)

		assert.True(t, res.Trimmed)
		require.Len(t, res.Messages, 3)
		assert.Equal(t, recent, res.Messages[2].Content)
		// Still over the soft threshold: only protected material is left.
		assert.Greater(t, res.EstimatedTokens, 2000)
	})
}

func TestPrepareHardClear(t *testing.T) {
	t.Run("should drop oldest messages when far over budget", func(t *testing.T) {
		cfg := DefaultConfig(6000)
		cfg.ProtectedRecentMessages = 2

		var msgs []chat.Message
		msgs = append(msgs, msg(chat.RoleSystem, "sys"))
		for i := 0; i < 20; i++ {
			msgs = append(msgs, msg(chat.RoleUser, strings.Repeat("m", 3000)))
		}
		res := Prepare(msgs, cfg)

		assert.True(t, res.Trimmed)
		// Only the system message and the protected tail survive.
		require.Len(t, res.Messages, 3)
		assert.Equal(t, chat.RoleSystem, res.Messages[0].Role)
		assert.Equal(t, msgs[len(msgs)-1], res.Messages[2])
	})

	t.Run("should stop when only protected messages remain", func(t *testing.T) {
		cfg := DefaultConfig(4000)
		cfg.ProtectedRecentMessages = 4

		msgs := []chat.Message{
			msg(chat.RoleSystem, strings.Repeat("s", 10000)),
			msg(chat.RoleUser, strings.Repeat("u", 10000)),
		}
		res := Prepare(msgs, cfg)

		require.Len(t, res.Messages, 2)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("should merge adjacent assistant messages for anthropic", func(t *testing.T) {
		msgs := []chat.Message{
			msg(chat.RoleUser, "hi"),
			msg(chat.RoleAssistant, "part one"),
			msg(chat.RoleAssistant, "part two"),
		}
		out := Normalize("anthropic", msgs)

		require.Len(t, out, 2)
		assert.Equal(t, "part one\npart two", out[1].Content)
	})

	t.Run("should pass through for unknown providers", func(t *testing.T) {
		msgs := []chat.Message{
			msg(chat.RoleAssistant, "a"),
			msg(chat.RoleAssistant, "b"),
		}
		out := Normalize("unknown", msgs)
		assert.Len(t, out, 2)
	})

	t.Run("should apply registered normalizers", func(t *testing.T) {
		RegisterNormalizer("custom-test", func(msgs []chat.Message) []chat.Message {
			return msgs[:1]
		})
		msgs := []chat.Message{
			msg(chat.RoleUser, "a"),
			msg(chat.RoleUser, "b"),
		}
		out := Normalize("custom-test", msgs)
		assert.Len(t, out, 1)
	})
}
