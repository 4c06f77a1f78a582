package toolbridge

import (
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// tracker matches invocation completions back to the identifiers
// assigned at start. Per tool id it keeps a FIFO of in-flight action
// ids: Begin pushes a fresh id, End pops the front.
//
// FIFO matching assumes same-tool calls complete in start order, which
// holds under the loop's sequential step execution. Begin also returns
// the id so a parallel dispatcher could correlate directly instead.
type tracker struct {
	mu      sync.Mutex
	pending map[string][]string
}

func newTracker() *tracker {
	return &tracker{pending: make(map[string][]string)}
}

// Begin assigns a fresh action id for the tool and records it.
func (t *tracker) Begin(toolID string) string {
	id := gonanoid.Must()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[toolID] = append(t.pending[toolID], id)
	return id
}

// End pops the oldest in-flight action id for the tool. Returns ""
// when nothing is in flight, which indicates a bridge misuse.
func (t *tracker) End(toolID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pending[toolID]
	if len(queue) == 0 {
		return ""
	}
	id := queue[0]
	if len(queue) == 1 {
		delete(t.pending, toolID)
	} else {
		t.pending[toolID] = queue[1:]
	}
	return id
}

// InFlight returns the number of in-flight invocations for the tool.
func (t *tracker) InFlight(toolID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[toolID])
}
