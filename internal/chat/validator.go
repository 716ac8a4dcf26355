package chat

import (
	"fmt"
	"strings"

	"chatstream/internal/fault"
	"chatstream/internal/models"
)

// ValidateRequest checks a completion request against structural and semantic
// rules and returns a normalized copy with defaults applied. On failure no
// defaults are applied at all; the original request is never mutated.
//
// The last-message-must-be-user rule is a completion-endpoint policy, not a
// request-shape rule, and is enforced by the Service rather than here.
func ValidateRequest(req *models.CompletionRequest) (*models.CompletionRequest, error) {
	var problems []fault.FieldError

	if strings.TrimSpace(req.ConversationID) == "" {
		problems = append(problems, fault.FieldError{
			Field:  "conversation_id",
			Detail: "must not be empty",
		})
	}
	if len(req.Messages) == 0 {
		problems = append(problems, fault.FieldError{
			Field:  "messages",
			Detail: "must contain at least one message",
		})
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			problems = append(problems, fault.FieldError{
				Field:  fmt.Sprintf("messages[%d].role", i),
				Detail: fmt.Sprintf("unrecognized role %q", m.Role),
			})
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		problems = append(problems, fault.FieldError{
			Field:  "temperature",
			Detail: fmt.Sprintf("must be within [0, 2], got %g", *req.Temperature),
		})
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens <= 0 {
		problems = append(problems, fault.FieldError{
			Field:  "max_output_tokens",
			Detail: fmt.Sprintf("must be positive, got %d", *req.MaxOutputTokens),
		})
	}
	if len(problems) > 0 {
		return nil, fault.Validation(problems...)
	}

	normalized := *req
	normalized.Messages = append([]models.TurnMessage(nil), req.Messages...)
	if normalized.Temperature == nil {
		t := models.DefaultTemperature
		normalized.Temperature = &t
	}
	return &normalized, nil
}
