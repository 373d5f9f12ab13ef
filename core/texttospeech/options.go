package texttospeech

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/NickTikhonov/shuo/core/audio"
)

const (
	DefaultVoiceID         = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID         = "eleven_turbo_v2_5"
	DefaultOutputFormat    = "ulaw_8000"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
)

// VoiceConfig selects a voice and the synthesis parameters it is spoken
// with. Two configs share pooled connections only when their fingerprints
// are equal.
type VoiceConfig struct {
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
}

func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{
		VoiceID:         DefaultVoiceID,
		ModelID:         DefaultModelID,
		OutputFormat:    DefaultOutputFormat,
		Stability:       DefaultStability,
		SimilarityBoost: DefaultSimilarityBoost,
	}
}

// Fingerprint is the exact-equality key of the config.
func (v VoiceConfig) Fingerprint() string {
	return strings.Join([]string{
		v.VoiceID,
		v.ModelID,
		v.OutputFormat,
		strconv.FormatFloat(v.Stability, 'f', -1, 64),
		strconv.FormatFloat(v.SimilarityBoost, 'f', -1, 64),
	}, "|")
}

// EncodingInfo maps the provider output format onto the transport encoding.
func (v VoiceConfig) EncodingInfo() (audio.EncodingInfo, error) {
	switch v.OutputFormat {
	case "ulaw_8000":
		return audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}, nil
	case "alaw_8000":
		return audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingALaw}, nil
	case "pcm_16000":
		return audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}, nil
	}
	return audio.EncodingInfo{}, fmt.Errorf("unsupported output format %q", v.OutputFormat)
}

// SpeechChunk is one increment of synthesized audio. Final marks the end of
// the audio for everything sent before Finish.
type SpeechChunk struct {
	Audio []byte
	Final bool
}

type SpeechConnection interface {
	// SendText sends text to the connection. It is guaranteed that the
	// speech will be generated in the order text is sent.
	//
	// SendText will error if Finish or Close has been called.
	SendText(ctx context.Context, text string) error
	// Finish signals that no more text will be sent for the current
	// utterance and forces generation of anything buffered.
	Finish(ctx context.Context) error
	// Receive blocks until the next audio increment, ctx is cancelled or the
	// connection fails.
	Receive(ctx context.Context) (SpeechChunk, error)
	// Healthy reports whether the connection can serve another utterance:
	// it is open, has not failed and has no utterance in progress.
	Healthy() bool
	// Close immediately closes the connection.
	//
	// Repeated calls to Close are ignored.
	Close() error
}

// SpeechDialer opens new synthesis connections.
type SpeechDialer interface {
	Dial(ctx context.Context, voice VoiceConfig) (SpeechConnection, error)
}

type SpeechDialerFunc func(ctx context.Context, voice VoiceConfig) (SpeechConnection, error)

func (f SpeechDialerFunc) Dial(ctx context.Context, voice VoiceConfig) (SpeechConnection, error) {
	return f(ctx, voice)
}
