package events

import (
	"errors"
	"testing"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "media received", event: NewMediaReceived([]byte{1}), expected: KindMediaReceived},
		{name: "stream started", event: NewStreamStarted("CA1", "MZ1"), expected: KindStreamStarted},
		{name: "stream stopped", event: NewStreamStopped(nil), expected: KindStreamStopped},
		{name: "max duration expired", event: NewMaxDurationExpired(), expected: KindMaxDurationExpired},
		{name: "turn started", event: NewTurnStarted(), expected: KindTurnStarted},
		{name: "turn ended", event: NewTurnEnded("hello"), expected: KindTurnEnded},
		{name: "agent turn done", event: NewAgentTurnDone(3), expected: KindAgentTurnDone},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected producer timestamp to be set")
			}
		})
	}
}

func TestActionsReportExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		action   Action
		expected ActionKind
	}{
		{name: "feed recognizer", action: FeedRecognizer{Audio: []byte{1}}, expected: ActionFeedRecognizer},
		{name: "start agent turn", action: StartAgentTurn{Transcript: "hi", Generation: 1}, expected: ActionStartAgentTurn},
		{name: "send first message", action: SendFirstMessage{Text: "hi", Generation: 1}, expected: ActionSendFirstMessage},
		{name: "reset agent turn", action: ResetAgentTurn{Generation: 1}, expected: ActionResetAgentTurn},
		{name: "end stream", action: EndStream{}, expected: ActionEndStream},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.action.ActionKind(); got != testCase.expected {
				t.Fatalf("expected action kind %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestStreamStoppedCarriesCause(t *testing.T) {
	cause := errors.New("socket closed")
	event := NewStreamStopped(cause)
	if !errors.Is(event.Err, cause) {
		t.Fatalf("expected cause %v, got %v", cause, event.Err)
	}
	if NewStreamStopped(nil).Err != nil {
		t.Fatalf("expected orderly stop to carry no error")
	}
}

func TestTurnStartedAndEndedKindsAreDistinct(t *testing.T) {
	started := NewTurnStarted()
	ended := NewTurnEnded("")

	if started.Kind() == ended.Kind() {
		t.Fatalf("expected turn started and turn ended kinds to differ, both were %q", started.Kind())
	}
}
