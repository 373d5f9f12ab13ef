// Package openai streams chat completions from any OpenAI compatible
// endpoint. Groq is the default.
package openai

import (
	"context"
	"net/http"

	"github.com/NickTikhonov/shuo/core/llms"
	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

type Client struct {
	client *goopenai.Client
	model  string

	maxTokens   int
	temperature float32
}

type ClientOptions struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxTokens   int
	Temperature float32
}

type ClientOption func(*ClientOptions)

func WithBaseURL(baseURL string) ClientOption {
	return func(o *ClientOptions) { o.BaseURL = baseURL }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = client }
}

func WithMaxTokens(maxTokens int) ClientOption {
	return func(o *ClientOptions) { o.MaxTokens = maxTokens }
}

func WithTemperature(temperature float32) ClientOption {
	return func(o *ClientOptions) { o.Temperature = temperature }
}

func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	options := ClientOptions{
		BaseURL:     DefaultBaseURL,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	if model == "" {
		model = DefaultModel
	}

	config := goopenai.DefaultConfig(apiKey)
	config.BaseURL = options.BaseURL
	config.HTTPClient = options.HTTPClient

	return &Client{
		client:      goopenai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   options.MaxTokens,
		temperature: options.Temperature,
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.ApplyStreamingOptions(llms.StreamingPromptOptions{
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}, opts...)

	messages := toMessages(options.Instructions, options.Turns)
	if prompt != nil {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: *prompt,
		})
	}

	return &Stream{
		client: c.client,
		request: goopenai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			MaxTokens:   options.MaxTokens,
			Temperature: options.Temperature,
			Stream:      true,
			StreamOptions: &goopenai.StreamOptions{
				IncludeUsage: true,
			},
		},
	}
}

func toMessages(instructions string, turns []llms.Turn) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(turns)+1)
	if instructions != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}
	for _, turn := range turns {
		role := goopenai.ChatMessageRoleUser
		if turn.Role == llms.TurnRoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return messages
}
