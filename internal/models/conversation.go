package models

import "time"

// Conversation groups an ordered sequence of messages. Conversations are
// created lazily: the first completion that references an unknown id creates
// it with a title derived from the triggering user message.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
