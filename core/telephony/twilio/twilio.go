// Package twilio carries a call over Twilio Media Streams and places
// outbound calls through the Twilio REST API.
package twilio

const (
	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

	// AudioEncodingMulaw is the only encoding bidirectional streams carry.
	AudioEncodingMulaw = "audio/x-mulaw"
	DefaultSampleRate  = 8000
)

// Call status constants.
const (
	CallStatusQueued     = "queued"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)
