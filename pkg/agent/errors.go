package agent

import (
	"context"
	"errors"
	"strings"
)

// Provider SDKs surface failures as opaque errors, so classification
// goes by message content. The signatures below cover the Anthropic
// and OpenAI SDKs plus common proxy phrasings.

var rateLimitSignatures = []string{
	"429",
	"rate limit",
	"too many requests",
	"quota",
}

var overflowSignatures = []string{
	"context length",
	"context_length_exceeded",
	"prompt is too long",
	"maximum context",
	"input is too long",
}

// IsRateLimitError reports whether err indicates provider throttling.
func IsRateLimitError(err error) bool {
	return matchesAny(err, rateLimitSignatures)
}

// IsOverflowError reports whether err indicates the request exceeded
// the model's context window.
func IsOverflowError(err error) bool {
	return matchesAny(err, overflowSignatures)
}

// IsAbortError reports whether err came from caller cancellation.
func IsAbortError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func matchesAny(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// errorKind labels an error for metrics and failover decisions.
func errorKind(err error) string {
	switch {
	case IsAbortError(err):
		return "abort"
	case IsRateLimitError(err):
		return "rate_limit"
	case IsOverflowError(err):
		return "overflow"
	default:
		return "transient"
	}
}
