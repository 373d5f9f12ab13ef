package llms

import "testing"

func TestWithTurnsClonesInput(t *testing.T) {
	turns := []Turn{UserTurn("hello"), AssistantTurn("hi there")}
	options := ApplyStreamingOptions(StreamingPromptOptions{}, WithTurns(turns...))

	turns[0].Content = "changed"
	if options.Turns[0].Content != "hello" {
		t.Fatalf("expected cloned turns, got %q", options.Turns[0].Content)
	}
}

func TestLaterOptionsOverrideEarlier(t *testing.T) {
	options := ApplyStreamingOptions(
		StreamingPromptOptions{Instructions: "base", MaxTokens: 500},
		WithSystemPrompt("first"),
		WithSystemPrompt("second"),
		WithMaxTokens(120),
		WithTemperature(0.25),
	)

	if options.Instructions != "second" {
		t.Fatalf("expected %q, got %q", "second", options.Instructions)
	}
	if options.MaxTokens != 120 {
		t.Fatalf("expected max tokens 120, got %d", options.MaxTokens)
	}
	if options.Temperature != 0.25 {
		t.Fatalf("expected temperature 0.25, got %v", options.Temperature)
	}
}
