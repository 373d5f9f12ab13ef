package speechtotext

import (
	"context"

	"github.com/NickTikhonov/shuo/core/audio"
)

type TranscriptionOptions struct {
	// SpeechStartedCallback is called when the provider detects the start of
	// a turn, which may happen while the agent is still speaking.
	SpeechStartedCallback func()
	// TranscriptionCallback is called with the final transcript once the
	// provider decides the turn has ended.
	TranscriptionCallback func(transcript string)
	// InterimTranscriptionCallback is called with the running transcript of
	// the turn in progress.
	InterimTranscriptionCallback func(transcript string)
	// ErrorCallback is called once when the stream fails. The provider does
	// not recover on its own after that.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithErrorCallback(callback func(error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// Recognizer detects turn boundaries in a continuous audio stream.
type Recognizer interface {
	// Transcribe opens the stream. Callbacks are invoked from a single
	// goroutine in the order the provider reports them.
	Transcribe(ctx context.Context, opts ...TranscriptionOption) error
	// SendAudio feeds one chunk of audio in the configured encoding.
	SendAudio(audio []byte) error
	// Close ends the stream. Repeated calls are ignored.
	Close() error
}
