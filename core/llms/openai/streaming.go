package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NickTikhonov/shuo/core/llms"
	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Stream struct {
	client  *goopenai.Client
	request goopenai.ChatCompletionRequest
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", s.request.Model),
			attribute.Int("request.messages", len(s.request.Messages)),
		)

		requestStarted := time.Now()
		span.AddEvent("request started")
		stream, err := s.client.CreateChatCompletionStream(ctx, s.request)
		if err != nil {
			err = fmt.Errorf("error opening completion stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
		defer stream.Close()

		usage := llms.Usage{}
		firstToken := true
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					// Cancelled by the caller, not a provider failure.
					yield(nil, ctx.Err())
					return
				}
				err = fmt.Errorf("error receiving completion chunk: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}

			if response.Usage != nil {
				usage.InputTokens = response.Usage.PromptTokens
				usage.OutputTokens = response.Usage.CompletionTokens
				usage.TotalTokens = response.Usage.TotalTokens
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			var finishReason *string
			if choice.FinishReason != "" {
				reason := string(choice.FinishReason)
				finishReason = &reason
			}
			if choice.Delta.Content == "" && finishReason == nil {
				continue
			}
			if firstToken && choice.Delta.Content != "" {
				firstToken = false
				usage.TimeToFirstToken = time.Since(requestStarted).Seconds()
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", usage.TimeToFirstToken))
				span.AddEvent("received first chunk")
			}
			if !yield(StreamContentChunk{finishReason: finishReason, content: choice.Delta.Content}, nil) {
				return
			}
		}

		span.SetAttributes(
			attribute.Int("response.usage.input_tokens", usage.InputTokens),
			attribute.Int("response.usage.output_tokens", usage.OutputTokens),
		)
		logger.Debug("completion stream finished", "model", s.request.Model, "output_tokens", usage.OutputTokens)
		yield(StreamUsageChunk{usage: usage}, nil)
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (c StreamContentChunk) FinishReason() *string { return c.finishReason }
func (c StreamContentChunk) Content() string       { return c.content }

type StreamUsageChunk struct {
	usage llms.Usage
}

func (c StreamUsageChunk) FinishReason() *string { return nil }
func (c StreamUsageChunk) Usage() llms.Usage     { return c.usage }
