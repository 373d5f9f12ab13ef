package orchestration

import (
	"context"
	"iter"
	"strings"
	"sync"
)

// textBuffer hands generated text from the text source to synthesis as it
// arrives. It supports one consumer.
type textBuffer struct {
	mu       sync.Mutex
	chunks   []string
	consumed int
	complete bool
	updated  chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{updated: make(chan struct{}, 1)}
}

func (b *textBuffer) AddChunk(chunk string) {
	if chunk == "" {
		return
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signal()
}

// Complete marks that no more chunks will be added.
func (b *textBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signal()
}

// Chunks yields chunks in arrival order until the buffer is complete and
// drained, or ctx is done.
func (b *textBuffer) Chunks(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			b.mu.Lock()
			if b.consumed < len(b.chunks) {
				chunk := b.chunks[b.consumed]
				b.consumed++
				b.mu.Unlock()
				if !yield(chunk) {
					return
				}
				continue
			}
			complete := b.complete
			b.mu.Unlock()
			if complete {
				return
			}

			select {
			case <-b.updated:
			case <-ctx.Done():
				return
			}
		}
	}
}

// String is the full text added so far.
func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.chunks, "")
}

func (b *textBuffer) signal() {
	select {
	case b.updated <- struct{}{}:
	default:
	}
}
