package models

// TurnMessage is one inbound {role, content} pair of a completion request.
type TurnMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the validated input to one generation.
//
// Temperature and MaxOutputTokens are pointers so "absent" is distinguishable
// from zero; validation fills defaults before an adapter ever sees the
// request.
type CompletionRequest struct {
	ConversationID  string        `json:"conversation_id"`
	OwnerID         string        `json:"owner_id,omitempty"`
	SystemPrompt    string        `json:"system_prompt,omitempty"`
	Messages        []TurnMessage `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxOutputTokens *int          `json:"max_output_tokens,omitempty"`
	ModelOverride   string        `json:"model_override,omitempty"`
	Stream          *bool         `json:"stream,omitempty"`
}

// DefaultTemperature is applied when the request omits temperature.
const DefaultTemperature = 0.7

// LastMessage returns the final message of the turn, or a zero value when the
// list is empty.
func (r *CompletionRequest) LastMessage() TurnMessage {
	if len(r.Messages) == 0 {
		return TurnMessage{}
	}
	return r.Messages[len(r.Messages)-1]
}
