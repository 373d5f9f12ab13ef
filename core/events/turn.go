package events

const (
	// KindTurnStarted identifies the remote party starting to speak.
	KindTurnStarted Kind = "turn_detection.started"
	// KindTurnEnded identifies the remote party finishing their turn.
	KindTurnEnded Kind = "turn_detection.ended"
	// KindAgentTurnDone identifies the terminal state of an agent turn.
	KindAgentTurnDone Kind = "agent_turn.done"
)

// TurnStarted marks the remote party starting to speak.
type TurnStarted struct{ Base }

// NewTurnStarted creates a turn started event.
func NewTurnStarted() TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted)}
}

// TurnEnded carries the final transcript of the remote party's turn.
type TurnEnded struct {
	Base
	Transcript string
}

// NewTurnEnded creates a turn ended event.
func NewTurnEnded(transcript string) TurnEnded {
	return TurnEnded{Base: NewBase(KindTurnEnded), Transcript: transcript}
}

// AgentTurnDone is reported exactly once per agent turn, whether it
// completed, failed or was cancelled.
type AgentTurnDone struct {
	Base
	Generation uint64
}

// NewAgentTurnDone creates an agent turn done event for the given generation.
func NewAgentTurnDone(generation uint64) AgentTurnDone {
	return AgentTurnDone{Base: NewBase(KindAgentTurnDone), Generation: generation}
}
