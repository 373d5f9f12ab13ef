package server

import (
	"context"
	"errors"

	orchestration "github.com/NickTikhonov/shuo/core"
	"github.com/NickTikhonov/shuo/core/llms"
	"github.com/NickTikhonov/shuo/core/llms/openai"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	"github.com/NickTikhonov/shuo/core/speechtotext/deepgram"
	"github.com/NickTikhonov/shuo/core/texttospeech/elevenlabs"
	"github.com/NickTikhonov/shuo/core/texttospeech/pool"
	"github.com/NickTikhonov/shuo/internal/config"
)

// Services are the providers shared by every call. Generator and Voices are
// process wide; each call gets its own recognizer session.
type Services struct {
	Generator     llms.TextStreamer
	Voices        orchestration.SpeechPool
	NewRecognizer func() speechtotext.Recognizer

	closers []func() error
}

// NewServices connects the configured providers. The synthesis pool starts
// warming connections right away and keeps doing so until Close.
func NewServices(ctx context.Context, cfg *config.Config) *Services {
	generator := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.Model,
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithMaxTokens(cfg.LLM.MaxTokens),
		openai.WithTemperature(float32(cfg.LLM.Temperature)),
	)

	voices := pool.New(ctx, elevenlabs.NewClient(cfg.ElevenLabs.APIKey), cfg.Voice(),
		pool.WithTargetIdle(cfg.Pool.TargetIdle),
		pool.WithMaxOutstanding(cfg.Pool.MaxOutstanding),
		pool.WithTTL(cfg.Pool.TTL),
	)

	apiKey := cfg.Deepgram.APIKey
	recognizerOpts := []deepgram.ClientOption{
		deepgram.WithModel(cfg.Deepgram.Model),
		deepgram.WithEndOfTurnThreshold(cfg.Deepgram.EndOfTurnThreshold),
	}

	return &Services{
		Generator: generator,
		Voices:    voices,
		NewRecognizer: func() speechtotext.Recognizer {
			return deepgram.NewTranscriptionClient(apiKey, recognizerOpts...)
		},
		closers: []func() error{voices.Close},
	}
}

func (s *Services) Close() error {
	var errs []error
	for _, closer := range s.closers {
		errs = append(errs, closer())
	}
	s.closers = nil
	return errors.Join(errs...)
}
