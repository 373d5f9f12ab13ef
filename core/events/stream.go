package events

const (
	// KindMediaReceived identifies an inbound audio frame from the transport.
	KindMediaReceived Kind = "stream.media_received"
	// KindStreamStarted identifies the start of the transport stream.
	KindStreamStarted Kind = "stream.started"
	// KindStreamStopped identifies the end of the transport stream.
	KindStreamStopped Kind = "stream.stopped"
	// KindMaxDurationExpired identifies the call duration limit being hit.
	KindMaxDurationExpired Kind = "stream.max_duration_expired"
)

// MediaReceived carries one opaque inbound audio chunk.
type MediaReceived struct {
	Base
	Audio []byte
}

// NewMediaReceived creates an inbound audio event.
func NewMediaReceived(audio []byte) MediaReceived {
	return MediaReceived{Base: NewBase(KindMediaReceived), Audio: audio}
}

// StreamStarted marks that the transport is ready to carry audio.
type StreamStarted struct {
	Base
	CallID   string
	StreamID string
}

// NewStreamStarted creates a stream started event.
func NewStreamStarted(callID, streamID string) StreamStarted {
	return StreamStarted{Base: NewBase(KindStreamStarted), CallID: callID, StreamID: streamID}
}

// StreamStopped marks the end of the transport stream. Err is nil when the
// remote side hung up normally and set when a transport or recognizer failure
// severed the call.
type StreamStopped struct {
	Base
	Err error
}

// NewStreamStopped creates a stream stopped event.
func NewStreamStopped(err error) StreamStopped {
	return StreamStopped{Base: NewBase(KindStreamStopped), Err: err}
}

// MaxDurationExpired is pushed by the call duration timer.
type MaxDurationExpired struct{ Base }

// NewMaxDurationExpired creates a max duration expired event.
func NewMaxDurationExpired() MaxDurationExpired {
	return MaxDurationExpired{Base: NewBase(KindMaxDurationExpired)}
}
