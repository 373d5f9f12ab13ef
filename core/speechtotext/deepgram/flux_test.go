package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	"github.com/gorilla/websocket"
)

func TestNewCallbackConfigDefaultsToNoopCallbacks(t *testing.T) {
	callbacks := newCallbackConfig(speechtotext.TranscriptionOptions{})

	callbacks.startSpeechCallback()
	callbacks.transcriptionCallback("full")
	callbacks.interimTranscriptionCallback("interim")
	callbacks.errorCallback(nil)
}

func TestProcessMessageMapsTurnEvents(t *testing.T) {
	var started atomic.Int32
	var mu sync.Mutex
	var finals, interims []string
	callbacks := newCallbackConfig(speechtotext.TranscriptionOptions{
		SpeechStartedCallback: func() { started.Add(1) },
		TranscriptionCallback: func(transcript string) {
			mu.Lock()
			finals = append(finals, transcript)
			mu.Unlock()
		},
		InterimTranscriptionCallback: func(transcript string) {
			mu.Lock()
			interims = append(interims, transcript)
			mu.Unlock()
		},
	})

	client := NewTranscriptionClient("key")
	messages := []string{
		`{"type":"Connected","request_id":"r1"}`,
		`{"type":"TurnInfo","event":"StartOfTurn","turn_index":0,"transcript":""}`,
		`{"type":"TurnInfo","event":"Update","turn_index":0,"transcript":"hello"}`,
		`{"type":"TurnInfo","event":"EndOfTurn","turn_index":0,"transcript":" hello there "}`,
		`not json`,
	}
	for _, msg := range messages {
		if err := client.processMessage([]byte(msg), callbacks); err != nil {
			t.Fatalf("unexpected error for %s: %v", msg, err)
		}
	}

	if got := started.Load(); got != 1 {
		t.Fatalf("expected one turn start, got %d", got)
	}
	if len(finals) != 1 || finals[0] != "hello there" {
		t.Fatalf("expected trimmed final transcript, got %q", finals)
	}
	if len(interims) != 1 || interims[0] != "hello" {
		t.Fatalf("expected one interim transcript, got %q", interims)
	}
}

func TestProcessMessageReportsProviderErrors(t *testing.T) {
	client := NewTranscriptionClient("key")
	err := client.processMessage([]byte(`{"type":"Error","code":"INVALID","description":"bad audio"}`), newCallbackConfig(speechtotext.TranscriptionOptions{}))
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestConvertEncoding(t *testing.T) {
	testCases := []struct {
		name    string
		info    audio.EncodingInfo
		wantErr bool
	}{
		{name: "telephony mulaw", info: audio.GetDefaultEncodingInfo()},
		{name: "linear16", info: audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}},
		{name: "mulaw at 16k", info: audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}, wantErr: true},
		{name: "odd rate", info: audio.EncodingInfo{SampleRate: 11025, Format: audio.EncodingLinear16}, wantErr: true},
		{name: "alaw", info: audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingALaw}, wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := convertEncoding(testCase.info)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("expected error %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestTranscribeStreamsAudioAndClosesGracefully(t *testing.T) {
	var mu sync.Mutex
	var query, auth string
	var audioBytes int
	closeStream := make(chan struct{})

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.RawQuery
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "TurnInfo", "event": "StartOfTurn", "transcript": ""})
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				mu.Lock()
				audioBytes += len(msg)
				mu.Unlock()
				_ = conn.WriteJSON(map[string]any{"type": "TurnInfo", "event": "EndOfTurn", "transcript": "hi"})
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				close(closeStream)
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	defer server.Close()

	started := make(chan struct{}, 1)
	ended := make(chan string, 1)
	failed := make(chan error, 1)

	client := NewTranscriptionClient("key", WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")), WithEndOfTurnThreshold(0.8))
	if err := client.SendAudio([]byte{1}); err == nil {
		t.Fatalf("expected send before transcribe to fail")
	}

	err := client.Transcribe(context.Background(),
		speechtotext.WithSpeechStartedCallback(func() { started <- struct{}{} }),
		speechtotext.WithTranscriptionCallback(func(transcript string) { ended <- transcript }),
		speechtotext.WithErrorCallback(func(err error) { failed <- err }),
	)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected turn start callback")
	}

	if err := client.SendAudio(make([]byte, 160)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case transcript := <-ended:
		if transcript != "hi" {
			t.Fatalf("expected %q, got %q", "hi", transcript)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected turn end callback")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	select {
	case <-closeStream:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected CloseStream message")
	}
	select {
	case err := <-failed:
		t.Fatalf("expected graceful close not to report an error, got %v", err)
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	if audioBytes != 160 {
		t.Fatalf("expected 160 audio bytes, got %d", audioBytes)
	}
	if auth != "Token key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	for _, param := range []string{"model=flux-general-en", "encoding=mulaw", "sample_rate=8000", "eot_threshold=0.8"} {
		if !strings.Contains(query, param) {
			t.Fatalf("expected query %q to contain %q", query, param)
		}
	}
}

func TestTranscribeReportsStreamClosedByServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "Connected", "request_id": "r1"})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	failed := make(chan error, 1)
	client := NewTranscriptionClient("key", WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	err := client.Transcribe(context.Background(),
		speechtotext.WithErrorCallback(func(err error) { failed <- err }),
	)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "deepgram closed the stream") {
			t.Fatalf("expected a closed stream error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a stream closed by deepgram to be reported")
	}
}
