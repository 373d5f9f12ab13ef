package orchestration

import (
	"reflect"
	"testing"

	"github.com/NickTikhonov/shuo/core/events"
)

func TestProcessTransitions(t *testing.T) {
	listening := NewConversationState(CallConfig{})
	responding := func(generation uint64) ConversationState {
		return ConversationState{Phase: PhaseResponding, Generation: generation}
	}

	tests := []struct {
		name           string
		state          ConversationState
		event          events.Event
		wantPhase      Phase
		wantGeneration uint64
		wantActions    []events.Action
	}{
		{
			name:           "turn ended starts an agent turn",
			state:          listening,
			event:          events.NewTurnEnded("hello"),
			wantPhase:      PhaseResponding,
			wantGeneration: 1,
			wantActions:    []events.Action{events.StartAgentTurn{Transcript: "hello", Generation: 1}},
		},
		{
			name:           "barge-in resets the live turn",
			state:          responding(1),
			event:          events.NewTurnStarted(),
			wantPhase:      PhaseListening,
			wantGeneration: 2,
			wantActions:    []events.Action{events.ResetAgentTurn{Generation: 1}},
		},
		{
			name:           "stale done is ignored",
			state:          responding(2),
			event:          events.NewAgentTurnDone(1),
			wantPhase:      PhaseResponding,
			wantGeneration: 2,
		},
		{
			name:           "current done returns to listening",
			state:          responding(2),
			event:          events.NewAgentTurnDone(2),
			wantPhase:      PhaseListening,
			wantGeneration: 2,
		},
		{
			name:        "turn started while listening is a no-op",
			state:       listening,
			event:       events.NewTurnStarted(),
			wantPhase:   PhaseListening,
			wantActions: nil,
		},
		{
			name:      "blank transcript is ignored",
			state:     listening,
			event:     events.NewTurnEnded("  "),
			wantPhase: PhaseListening,
		},
		{
			name:           "turn ended while responding is ignored",
			state:          responding(3),
			event:          events.NewTurnEnded("again"),
			wantPhase:      PhaseResponding,
			wantGeneration: 3,
		},
		{
			name:           "done while listening is ignored",
			state:          ConversationState{Phase: PhaseListening, Generation: 4},
			event:          events.NewAgentTurnDone(4),
			wantPhase:      PhaseListening,
			wantGeneration: 4,
		},
		{
			name:        "stream stopped ends the call",
			state:       listening,
			event:       events.NewStreamStopped(nil),
			wantPhase:   PhaseEnded,
			wantActions: []events.Action{events.EndStream{}},
		},
		{
			name:           "max duration ends the call while responding",
			state:          responding(1),
			event:          events.NewMaxDurationExpired(),
			wantPhase:      PhaseEnded,
			wantGeneration: 1,
			wantActions:    []events.Action{events.EndStream{}},
		},
		{
			name:      "ended absorbs everything",
			state:     ConversationState{Phase: PhaseEnded},
			event:     events.NewTurnEnded("hello"),
			wantPhase: PhaseEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, actions := Process(tt.state, tt.event)
			if state.Phase != tt.wantPhase {
				t.Fatalf("expected phase %s, got %s", tt.wantPhase, state.Phase)
			}
			if state.Generation != tt.wantGeneration {
				t.Fatalf("expected generation %d, got %d", tt.wantGeneration, state.Generation)
			}
			if !reflect.DeepEqual(actions, tt.wantActions) {
				t.Fatalf("expected actions %#v, got %#v", tt.wantActions, actions)
			}
		})
	}
}

func TestProcessForwardsAudioInEveryLivePhase(t *testing.T) {
	audio := []byte{1, 2, 3}
	for _, phase := range []Phase{PhaseListening, PhaseResponding} {
		state := ConversationState{Phase: phase, Generation: 7}
		next, actions := Process(state, events.NewMediaReceived(audio))
		if next != state {
			t.Fatalf("expected media to leave state unchanged in %s", phase)
		}
		if len(actions) != 1 {
			t.Fatalf("expected one action in %s, got %d", phase, len(actions))
		}
		feed, ok := actions[0].(events.FeedRecognizer)
		if !ok || !reflect.DeepEqual(feed.Audio, audio) {
			t.Fatalf("expected FeedRecognizer with audio in %s, got %#v", phase, actions[0])
		}
	}
}

func TestProcessStaleDoneNeverChangesPhase(t *testing.T) {
	for _, phase := range []Phase{PhaseListening, PhaseResponding} {
		for _, generation := range []uint64{0, 1, 2, 4, 100} {
			state := ConversationState{Phase: phase, Generation: 3}
			next, actions := Process(state, events.NewAgentTurnDone(generation))
			if next.Phase != phase || len(actions) != 0 {
				t.Fatalf("done(%d) in %s changed phase to %s with %d actions", generation, phase, next.Phase, len(actions))
			}
		}
	}
}

func TestProcessStreamStartedRecordsIDsAndSendsFirstMessage(t *testing.T) {
	state := NewConversationState(CallConfig{FirstMessage: "Hi, how can I help?"})

	next, actions := Process(state, events.NewStreamStarted("CA1", "MZ1"))
	if next.CallID != "CA1" || next.StreamID != "MZ1" {
		t.Fatalf("expected ids to be recorded, got %q %q", next.CallID, next.StreamID)
	}
	if next.Phase != PhaseResponding || next.Generation != 1 {
		t.Fatalf("expected RESPONDING at generation 1, got %s at %d", next.Phase, next.Generation)
	}
	expected := []events.Action{events.SendFirstMessage{Text: "Hi, how can I help?", Generation: 1}}
	if !reflect.DeepEqual(actions, expected) {
		t.Fatalf("expected %#v, got %#v", expected, actions)
	}

	quiet, actions := Process(NewConversationState(CallConfig{}), events.NewStreamStarted("CA1", "MZ1"))
	if quiet.Phase != PhaseListening || len(actions) != 0 {
		t.Fatalf("expected no first message, got %s with %#v", quiet.Phase, actions)
	}
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	state := NewConversationState(CallConfig{})
	_, _ = Process(state, events.NewTurnEnded("hello"))
	if state.Phase != PhaseListening || state.Generation != 0 {
		t.Fatalf("expected input state to be untouched, got %+v", state)
	}
}
