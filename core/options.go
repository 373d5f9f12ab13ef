package orchestration

import (
	"context"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/llms"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/NickTikhonov/shuo/core/texttospeech/pool"
	"github.com/NickTikhonov/shuo/internal/calltrace"
)

const (
	DefaultResetGracePeriod = 2 * time.Second
	DefaultEventQueueSize   = 256
)

// Transport carries audio to and controls the remote end of the call.
type Transport interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	// ClearBuffer drops audio the transport has buffered but not played.
	ClearBuffer()
	// StopStream ends the call.
	StopStream() error
}

// playbackMarker is implemented by transports that can report when the
// caller has heard everything sent so far.
type playbackMarker interface {
	Mark(name string, onPlayed func()) error
}

// SpeechPool leases synthesis connections.
type SpeechPool interface {
	Acquire(ctx context.Context, voice texttospeech.VoiceConfig) (*pool.Lease, error)
	Release(lease *pool.Lease) pool.Disposition
}

type AgentOption func(*Agent)

// WithResetGracePeriod bounds how long a reset turn may take to wind down
// before it is reported as leaked.
func WithResetGracePeriod(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.resetGracePeriod = d
		}
	}
}

// WithPlaybackInterval sets the delay between frames sent to the transport.
// Zero sends frames as fast as the transport accepts them.
func WithPlaybackInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.playbackInterval = max(d, 0)
	}
}

func WithHistory(history *History) AgentOption {
	return func(a *Agent) {
		if history != nil {
			a.history = history
		}
	}
}

func WithCallTrace(trace *calltrace.Trace) AgentOption {
	return func(a *Agent) {
		a.trace = trace
	}
}

// WithResponseCallback is called with the full text of every completed
// agent turn.
func WithResponseCallback(callback func(response string)) AgentOption {
	return func(a *Agent) {
		a.onResponse = callback
	}
}

// WithCancellationCallback is called with the generation of every turn that
// is reset.
func WithCancellationCallback(callback func(generation uint64)) AgentOption {
	return func(a *Agent) {
		a.onCancellation = callback
	}
}

type LoopOption func(*Loop)

func WithRecognizer(recognizer speechtotext.Recognizer) LoopOption {
	return func(l *Loop) {
		l.recognizer = recognizer
	}
}

func WithGenerator(generator llms.TextStreamer) LoopOption {
	return func(l *Loop) {
		l.generator = generator
	}
}

func WithSpeechPool(voices SpeechPool) LoopOption {
	return func(l *Loop) {
		l.voices = voices
	}
}

func WithAgentOptions(opts ...AgentOption) LoopOption {
	return func(l *Loop) {
		l.agentOptions = append(l.agentOptions, opts...)
	}
}

func WithEventQueueSize(size int) LoopOption {
	return func(l *Loop) {
		if size > 0 {
			l.queueSize = size
		}
	}
}

// WithTraceDir saves the call trace to dir when the loop exits.
func WithTraceDir(dir string) LoopOption {
	return func(l *Loop) {
		l.traceDir = dir
	}
}

func WithTranscriptionCallback(callback func(transcript string)) LoopOption {
	return func(l *Loop) {
		l.onTranscription = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) LoopOption {
	return func(l *Loop) {
		l.onInterimTranscription = callback
	}
}

// WithPhaseChangedCallback is called from the loop goroutine after every
// phase transition.
func WithPhaseChangedCallback(callback func(from, to Phase)) LoopOption {
	return func(l *Loop) {
		l.onPhaseChanged = callback
	}
}
