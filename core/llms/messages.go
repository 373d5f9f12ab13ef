package llms

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is a single completed utterance in the conversation.
type Turn struct {
	Role TurnRole
	// Content is what was said: the transcript for the user, the generated
	// response for the assistant.
	Content string
}

func UserTurn(content string) Turn {
	return Turn{Role: TurnRoleUser, Content: content}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: TurnRoleAssistant, Content: content}
}
