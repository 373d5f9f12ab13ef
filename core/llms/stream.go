package llms

import "context"

// TextStreamer generates a response as a stream of text increments.
type TextStreamer interface {
	// PromptWithStream prepares a streaming request. Nothing is sent until
	// the returned stream's Chunks iterator is ranged over. A nil prompt
	// means the last entry of the turns is the prompt.
	PromptWithStream(ctx context.Context, prompt *string, opts ...StreamingPromptOption) Stream
}

type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int
	// OutputTokens represents the number of output tokens.
	OutputTokens int
	// TotalTokens represents the total number of tokens used.
	TotalTokens int

	// TimeToFirstToken is measured from sending the request to receiving the
	// first content increment.
	TimeToFirstToken float64
}
