// Package deepgram detects turns with Deepgram Flux, which reports turn
// boundaries directly instead of leaving endpointing to the caller.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL = "wss://api.deepgram.com"
	DefaultModel   = "flux-general-en"

	closeTimeout = 2 * time.Second
)

var ErrNotStarted = errors.New("deepgram stream not started")

type fluxMessageType string

const (
	fluxTypeConnected  fluxMessageType = "Connected"
	fluxTypeTurnInfo   fluxMessageType = "TurnInfo"
	fluxTypeError      fluxMessageType = "Error"
	fluxTypeFatalError fluxMessageType = "FatalError"
)

type fluxTurnEvent string

const (
	fluxStartOfTurn    fluxTurnEvent = "StartOfTurn"
	fluxUpdate         fluxTurnEvent = "Update"
	fluxEagerEndOfTurn fluxTurnEvent = "EagerEndOfTurn"
	fluxTurnResumed    fluxTurnEvent = "TurnResumed"
	fluxEndOfTurn      fluxTurnEvent = "EndOfTurn"
)

type fluxMessage struct {
	Type        fluxMessageType `json:"type"`
	Event       fluxTurnEvent   `json:"event"`
	TurnIndex   int             `json:"turn_index"`
	Transcript  string          `json:"transcript"`
	Description string          `json:"description"`
	Code        string          `json:"code"`
}

type TranscriptionClient struct {
	apiKey       string
	baseURL      string
	model        string
	eotThreshold float64

	conn      *websocket.Conn
	connMu    sync.Mutex
	closing   bool
	closeOnce sync.Once
	readDone  chan struct{}
}

type ClientOption func(*TranscriptionClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TranscriptionClient) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithEndOfTurnThreshold sets the confidence Flux needs before it reports
// the end of a turn. Zero keeps the provider default.
func WithEndOfTurnThreshold(threshold float64) ClientOption {
	return func(c *TranscriptionClient) { c.eotThreshold = threshold }
}

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    DefaultModel,
		readDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	ctx, span := tracer.Start(ctx, "open flux stream")
	defer span.End()

	options := speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	callbacks := newCallbackConfig(options)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := s.connectWebsocket(ctx, encoding)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	go s.readAndProcessMessages(conn, callbacks)
	return nil
}

func (s *TranscriptionClient) connectWebsocket(ctx context.Context, encoding *encodingInfo) (*websocket.Conn, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	listenURL, err := url.Parse(s.baseURL + "/v2/listen")
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("model", s.model)
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	if s.eotThreshold > 0 {
		queryParams.Set("eot_threshold", strconv.FormatFloat(s.eotThreshold, 'f', -1, 64))
	}
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return ErrNotStarted
	}
	if s.closing {
		return nil
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Close asks Deepgram to finish the stream and waits briefly for it to do
// so before dropping the socket.
func (s *TranscriptionClient) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		conn := s.conn
		s.closing = true
		if conn != nil {
			if writeErr := conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: string(api.TypeCloseStreamResponse)}); writeErr != nil {
				err = fmt.Errorf("failed to close deepgram stream: %w", writeErr)
			}
		}
		s.connMu.Unlock()

		if conn == nil {
			return
		}
		select {
		case <-s.readDone:
		case <-time.After(closeTimeout):
		}
		_ = conn.Close()
	})
	return err
}

func (s *TranscriptionClient) isClosing() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closing
}

func (s *TranscriptionClient) readAndProcessMessages(conn *websocket.Conn, callbacks callbackConfig) {
	defer close(s.readDone)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if s.isClosing() {
				return
			}
			// Deepgram closing the stream on its own ends turn detection for
			// the call, even with a normal close code.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("deepgram closed the stream", "error", err)
				callbacks.errorCallback(fmt.Errorf("deepgram closed the stream: %w", err))
				return
			}
			logger.Error("Failed to read deepgram websocket message", "error", err)
			callbacks.errorCallback(fmt.Errorf("deepgram stream failed: %w", err))
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		if err := s.processMessage(msg, callbacks); err != nil {
			callbacks.errorCallback(err)
			return
		}
	}
}

// processMessage runs inline so turn events reach the caller in the order
// they were produced.
func (s *TranscriptionClient) processMessage(msg []byte, callbacks callbackConfig) error {
	var parsedMsg fluxMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("Failed to unmarshal deepgram message", "error", err)
		return nil
	}

	switch parsedMsg.Type {
	case fluxTypeConnected:
		logger.Debug("deepgram flux stream connected")

	case fluxTypeTurnInfo:
		transcript := strings.TrimSpace(parsedMsg.Transcript)
		switch parsedMsg.Event {
		case fluxStartOfTurn:
			callbacks.startSpeechCallback()
		case fluxUpdate, fluxEagerEndOfTurn, fluxTurnResumed:
			if transcript != "" {
				callbacks.interimTranscriptionCallback(transcript)
			}
		case fluxEndOfTurn:
			callbacks.transcriptionCallback(transcript)
		}

	case fluxTypeError, fluxTypeFatalError:
		return fmt.Errorf("deepgram error %s: %s", parsedMsg.Code, parsedMsg.Description)
	}
	return nil
}

type callbackConfig struct {
	startSpeechCallback          func()
	transcriptionCallback        func(string)
	interimTranscriptionCallback func(string)
	errorCallback                func(error)
}

func newCallbackConfig(options speechtotext.TranscriptionOptions) callbackConfig {
	callbacks := callbackConfig{
		startSpeechCallback:          func() {},
		transcriptionCallback:        func(string) {},
		interimTranscriptionCallback: func(string) {},
		errorCallback:                func(error) {},
	}
	if options.SpeechStartedCallback != nil {
		callbacks.startSpeechCallback = options.SpeechStartedCallback
	}
	if options.TranscriptionCallback != nil {
		callbacks.transcriptionCallback = options.TranscriptionCallback
	}
	if options.InterimTranscriptionCallback != nil {
		callbacks.interimTranscriptionCallback = options.InterimTranscriptionCallback
	}
	if options.ErrorCallback != nil {
		callbacks.errorCallback = options.ErrorCallback
	}
	return callbacks
}
