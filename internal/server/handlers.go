package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	orchestration "github.com/NickTikhonov/shuo/core"
	"github.com/NickTikhonov/shuo/core/events"
	"github.com/NickTikhonov/shuo/core/telephony/twilio"
	"github.com/NickTikhonov/shuo/internal/calltrace"
	"github.com/muesli/reflow/truncate"
	"go.opentelemetry.io/otel/codes"
)

const logTextWidth = 80

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.ActiveCalls(),
	})
}

// handleTwiML answers Twilio's webhook with a document that connects the
// call to the media stream endpoint.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	publicURL := s.cfg.Twilio.PublicURL
	if publicURL == "" {
		publicURL = r.Host
	}

	streamURL, err := twilio.MediaStreamURL(publicURL, mediaStreamPath)
	if err != nil {
		logger.Error("invalid public url", "url", publicURL, "error", err)
		http.Error(w, "invalid public url", http.StatusInternalServerError)
		return
	}
	document, err := twilio.StreamTwiML(streamURL)
	if err != nil {
		logger.Error("failed to render twiml", "error", err)
		http.Error(w, "failed to render twiml", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(document)
}

func (s *Server) handleLatestTrace(w http.ResponseWriter, r *http.Request) {
	path, err := calltrace.Latest(s.cfg.Call.TraceDir)
	if errors.Is(err, calltrace.ErrNoTraces) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no traces found"})
		return
	}
	if err != nil {
		logger.Error("failed to find latest trace", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read traces"})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read trace", "path", path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read trace"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleMediaStream serves one call for as long as its websocket is open.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.calls.Add(1)
	defer s.calls.Done()
	s.active.Add(1)
	defer s.active.Add(-1)

	ctx, span := tracer.Start(s.callCtx, "serve media stream")
	defer span.End()

	stream := twilio.NewMediaStream(conn)
	loop := orchestration.NewLoop(stream, s.callConfig(),
		orchestration.WithRecognizer(s.services.NewRecognizer()),
		orchestration.WithGenerator(s.services.Generator),
		orchestration.WithSpeechPool(s.services.Voices),
		orchestration.WithTraceDir(s.cfg.Call.TraceDir),
		orchestration.WithTranscriptionCallback(func(transcript string) {
			logger.Info("caller said", "transcript", truncate.StringWithTail(transcript, logTextWidth, "…"))
		}),
		orchestration.WithPhaseChangedCallback(func(from, to orchestration.Phase) {
			logger.Debug("phase changed", "from", from.String(), "to", to.String())
		}),
	)

	received := make(chan error, 1)
	go func() {
		received <- stream.Receive(ctx, func(event events.Event) {
			// The loop stops accepting events once it has exited; the stream
			// is being torn down at that point.
			_ = loop.Push(event)
		})
	}()

	if err := loop.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("call ended with error", "call_sid", stream.CallSID(), "error", err)
	}
	trace := loop.Trace().Snapshot()
	cancelled := 0
	for _, turn := range trace.Turns {
		if turn.Cancelled {
			cancelled++
		}
	}
	logger.Info("call summary",
		"call_sid", stream.CallSID(),
		"agent_turns", len(trace.Turns),
		"cancelled_turns", cancelled)
	_ = stream.StopStream()
	<-received
}

func (s *Server) callConfig() orchestration.CallConfig {
	return orchestration.CallConfig{
		SystemPrompt: s.cfg.Call.SystemPrompt,
		Model:        s.cfg.LLM.Model,
		Voice:        s.cfg.Voice(),
		FirstMessage: s.cfg.Call.FirstMessage,
		MaxDuration:  s.cfg.Call.MaxDuration,
		Record:       s.cfg.Call.Record,
	}
}
