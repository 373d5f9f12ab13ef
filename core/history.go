package orchestration

import (
	"slices"
	"sync"

	"github.com/NickTikhonov/shuo/core/llms"
)

// History is the append-only record of completed turns. Entries are never
// reordered or removed.
type History struct {
	mu    sync.RWMutex
	turns []llms.Turn
}

func NewHistory(turns ...llms.Turn) *History {
	return &History{turns: slices.Clone(turns)}
}

func (h *History) Append(turn llms.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// Turns returns a copy of the history in conversational order.
func (h *History) Turns() []llms.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.turns)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
