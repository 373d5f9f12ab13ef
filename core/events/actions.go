package events

type ActionKind string

// Action is a side effect requested by the state machine and executed by the
// event loop.
type Action interface {
	ActionKind() ActionKind
}

const (
	ActionFeedRecognizer   ActionKind = "feed_recognizer"
	ActionStartAgentTurn   ActionKind = "start_agent_turn"
	ActionSendFirstMessage ActionKind = "send_first_message"
	ActionResetAgentTurn   ActionKind = "reset_agent_turn"
	ActionEndStream        ActionKind = "end_stream"
)

// FeedRecognizer forwards an inbound audio chunk to turn detection.
type FeedRecognizer struct{ Audio []byte }

func (FeedRecognizer) ActionKind() ActionKind { return ActionFeedRecognizer }

// StartAgentTurn starts a response to the transcript under a new generation.
type StartAgentTurn struct {
	Transcript string
	Generation uint64
}

func (StartAgentTurn) ActionKind() ActionKind { return ActionStartAgentTurn }

// SendFirstMessage speaks a literal opening message under a new generation.
type SendFirstMessage struct {
	Text       string
	Generation uint64
}

func (SendFirstMessage) ActionKind() ActionKind { return ActionSendFirstMessage }

// ResetAgentTurn cancels the turn born with Generation and clears any audio
// buffered on the transport.
type ResetAgentTurn struct{ Generation uint64 }

func (ResetAgentTurn) ActionKind() ActionKind { return ActionResetAgentTurn }

// EndStream terminates the conversation.
type EndStream struct{}

func (EndStream) ActionKind() ActionKind { return ActionEndStream }
