package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("should classify rate limit signatures", func(t *testing.T) {
		cases := []string{
			"request failed with status 429",
			"Rate limit exceeded",
			"Too Many Requests",
			"monthly quota exhausted",
		}
		for _, msg := range cases {
			assert.True(t, IsRateLimitError(errors.New(msg)), msg)
		}
	})

	t.Run("should classify overflow signatures", func(t *testing.T) {
		cases := []string{
			"this model's maximum context length is 128000 tokens",
			"prompt is too long: 210000 tokens",
			"error code context_length_exceeded",
			"input is too long for requested model",
		}
		for _, msg := range cases {
			assert.True(t, IsOverflowError(errors.New(msg)), msg)
		}
	})

	t.Run("should classify cancellation as abort", func(t *testing.T) {
		assert.True(t, IsAbortError(context.Canceled))
		assert.True(t, IsAbortError(fmt.Errorf("call failed: %w", context.DeadlineExceeded)))
		assert.False(t, IsAbortError(errors.New("connection refused")))
	})

	t.Run("should label unknown errors transient", func(t *testing.T) {
		assert.Equal(t, "transient", errorKind(errors.New("connection reset")))
		assert.Equal(t, "rate_limit", errorKind(errors.New("429")))
		assert.Equal(t, "overflow", errorKind(errors.New("prompt is too long")))
		assert.Equal(t, "abort", errorKind(context.Canceled))
	})

	t.Run("should not classify nil errors", func(t *testing.T) {
		assert.False(t, IsRateLimitError(nil))
		assert.False(t, IsOverflowError(nil))
		assert.False(t, IsAbortError(nil))
	})
}
