package models

// FinishReason is the normalized cause a generation stopped. Each backend
// reports its own vocabulary; adapters map onto this one.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
)

// TokenUsage counts the units consumed by one generation.
// TotalTokens = PromptTokens + CompletionTokens always holds; adapters
// recompute the total when a backend omits or disagrees on it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Normalize makes the sum invariant hold.
func (u *TokenUsage) Normalize() {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// Chunk is one incremental unit of generated output. Exactly one chunk per
// generation has IsFinal set, it is the last one emitted, and it carries the
// complete usage numbers and finish reason regardless of when the backend
// delivered them. Concatenating ContentDelta over all chunks in emission
// order yields the full generated text.
type Chunk struct {
	ContentDelta string       `json:"content_delta"`
	IsFinal      bool         `json:"is_final"`
	Model        string       `json:"model,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Completion is the non-incremental result of a generation.
type Completion struct {
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	Usage        TokenUsage   `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
}
