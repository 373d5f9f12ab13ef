package llms

import "slices"

type StreamingPromptOptions struct {
	Instructions string
	Turns        []Turn

	// MaxTokens and Temperature override the client defaults when non-zero.
	MaxTokens   int
	Temperature float32
}

type StreamingPromptOption func(*StreamingPromptOptions)

// WithSystemPrompt sets the instructions sent ahead of the conversation.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns sets the prior conversation. The slice is cloned so later
// appends by the caller are not observed by the request.
func WithTurns(turns ...Turn) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Turns = slices.Clone(turns)
	}
}

func WithMaxTokens(maxTokens int) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.MaxTokens = maxTokens
	}
}

func WithTemperature(temperature float32) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Temperature = temperature
	}
}

func ApplyStreamingOptions(base StreamingPromptOptions, opts ...StreamingPromptOption) StreamingPromptOptions {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
