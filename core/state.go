package orchestration

import (
	"strings"
	"time"

	"github.com/NickTikhonov/shuo/core/events"
	"github.com/NickTikhonov/shuo/core/texttospeech"
)

type Phase int

const (
	PhaseListening Phase = iota
	PhaseResponding
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "LISTENING"
	case PhaseResponding:
		return "RESPONDING"
	case PhaseEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

// CallConfig is fixed for the lifetime of a call.
type CallConfig struct {
	SystemPrompt string
	// Model names the text generation model, for logs and traces.
	Model string
	Voice texttospeech.VoiceConfig
	// FirstMessage is spoken as soon as the stream starts. Empty means the
	// agent waits for the caller to speak first.
	FirstMessage string
	MaxDuration  time.Duration
	Record       bool
}

// ConversationState is replaced as a whole on every transition. Generation
// is the fencing token of the live agent turn: every turn start bumps it, so
// anything tagged with an older value is stale.
type ConversationState struct {
	Phase      Phase
	Generation uint64
	Call       CallConfig
	CallID     string
	StreamID   string
}

func NewConversationState(call CallConfig) ConversationState {
	return ConversationState{Phase: PhaseListening, Call: call}
}

// Process is the turn-taking state machine. It has no side effects; the
// returned actions are for the caller to execute in order.
func Process(state ConversationState, event events.Event) (ConversationState, []events.Action) {
	if state.Phase == PhaseEnded {
		return state, nil
	}

	switch e := event.(type) {
	case events.MediaReceived:
		return state, []events.Action{events.FeedRecognizer{Audio: e.Audio}}

	case events.StreamStarted:
		state.CallID = e.CallID
		state.StreamID = e.StreamID
		if state.Phase != PhaseListening || state.Call.FirstMessage == "" {
			return state, nil
		}
		state.Generation++
		state.Phase = PhaseResponding
		return state, []events.Action{events.SendFirstMessage{Text: state.Call.FirstMessage, Generation: state.Generation}}

	case events.TurnEnded:
		if state.Phase != PhaseListening || strings.TrimSpace(e.Transcript) == "" {
			return state, nil
		}
		state.Generation++
		state.Phase = PhaseResponding
		return state, []events.Action{events.StartAgentTurn{Transcript: e.Transcript, Generation: state.Generation}}

	case events.TurnStarted:
		if state.Phase != PhaseResponding {
			return state, nil
		}
		interrupted := state.Generation
		state.Generation++
		state.Phase = PhaseListening
		return state, []events.Action{events.ResetAgentTurn{Generation: interrupted}}

	case events.AgentTurnDone:
		if state.Phase == PhaseResponding && e.Generation == state.Generation {
			state.Phase = PhaseListening
		}
		return state, nil

	case events.StreamStopped, events.MaxDurationExpired:
		state.Phase = PhaseEnded
		return state, []events.Action{events.EndStream{}}
	}

	return state, nil
}
