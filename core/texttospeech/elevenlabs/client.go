// Package elevenlabs implements synthesis connections over the ElevenLabs
// stream-input websocket.
package elevenlabs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL      = "wss://api.elevenlabs.io"
	defaultWriteTimeout = 5 * time.Second
)

type Client struct {
	apiKey       string
	baseURL      string
	writeTimeout time.Duration
	dialer       *websocket.Dialer
}

type ClientOption func(*Client)

// WithBaseURL points the client at a different websocket host, mostly useful
// for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.writeTimeout = timeout }
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		writeTimeout: defaultWriteTimeout,
		dialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Dial opens a connection and sends the voice settings, so the returned
// connection is ready to take text without another round trip.
func (c *Client) Dial(ctx context.Context, voice texttospeech.VoiceConfig) (texttospeech.SpeechConnection, error) {
	ctx, span := tracer.Start(ctx, "dial elevenlabs")
	defer span.End()
	span.SetAttributes(
		attribute.String("voice.id", voice.VoiceID),
		attribute.String("voice.model", voice.ModelID),
	)

	if c.apiKey == "" {
		err := fmt.Errorf("elevenlabs api key not set")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if voice.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id is required")
	}

	streamURL, err := c.streamURL(voice)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", c.apiKey)
	ws, _, err := c.dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		err = fmt.Errorf("failed to open socket connection to elevenlabs: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conn := newConnection(ws, c.writeTimeout)
	if err := conn.writeJSON(ctx, initMessage{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
		},
		APIKey: c.apiKey,
	}); err != nil {
		_ = conn.Close()
		err = fmt.Errorf("failed to initialise elevenlabs stream: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go conn.readLoop()
	return conn, nil
}

func (c *Client) streamURL(voice texttospeech.VoiceConfig) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + url.PathEscape(voice.VoiceID) + "/stream-input"

	query := u.Query()
	modelID := voice.ModelID
	if modelID == "" {
		modelID = texttospeech.DefaultModelID
	}
	outputFormat := voice.OutputFormat
	if outputFormat == "" {
		outputFormat = texttospeech.DefaultOutputFormat
	}
	query.Set("model_id", modelID)
	query.Set("output_format", outputFormat)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

type initMessage struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	APIKey        string        `json:"xi_api_key"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	Flush                bool   `json:"flush,omitempty"`
}
