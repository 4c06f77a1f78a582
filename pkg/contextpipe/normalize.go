package contextpipe

import (
	"sync"

	"github.com/daneel/olivaw/pkg/chat"
)

// Normalizer rewrites a prepared message list into the shape one
// provider requires. Normalizers run after trimming and must not grow
// the estimate.
type Normalizer func([]chat.Message) []chat.Message

var (
	normMu      sync.RWMutex
	normalizers = map[string]Normalizer{
		// Anthropic rejects consecutive same-role turns.
		"anthropic": MergeAdjacentAssistant,
	}
)

// RegisterNormalizer installs or replaces the normalizer for a
// provider id.
func RegisterNormalizer(providerID string, fn Normalizer) {
	normMu.Lock()
	defer normMu.Unlock()
	normalizers[providerID] = fn
}

// Normalize applies the provider's normalizer, if any. Unknown
// provider ids pass through unchanged.
func Normalize(providerID string, msgs []chat.Message) []chat.Message {
	normMu.RLock()
	fn := normalizers[providerID]
	normMu.RUnlock()
	if fn == nil {
		return msgs
	}
	return fn(msgs)
}

// MergeAdjacentAssistant merges runs of consecutive assistant messages
// into one, concatenating text content in order.
func MergeAdjacentAssistant(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) > 0 && m.Role == chat.RoleAssistant && out[len(out)-1].Role == chat.RoleAssistant {
			prev := out[len(out)-1]
			merged := prev.Text()
			if t := m.Text(); t != "" {
				if merged != "" {
					merged += "\n"
				}
				merged += t
			}
			out[len(out)-1] = prev.WithText(merged)
			continue
		}
		out = append(out, m)
	}
	return out
}
