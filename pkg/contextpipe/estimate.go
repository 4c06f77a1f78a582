package contextpipe

import "github.com/daneel/olivaw/pkg/chat"

// defaultTokenDivisor is the characters-per-token heuristic used when a
// provider does not supply its own. One token per four characters is a
// deliberate approximation, not a tokenizer: estimates here are only
// ever compared against budgets that carry their own headroom.
const defaultTokenDivisor = 4

// EstimateTokens returns the heuristic token estimate for msgs using
// the given characters-per-token divisor.
func EstimateTokens(msgs []chat.Message, divisor int) int {
	if divisor <= 0 {
		divisor = defaultTokenDivisor
	}
	total := 0
	for _, m := range msgs {
		total += len(m.Text())
	}
	return total / divisor
}
