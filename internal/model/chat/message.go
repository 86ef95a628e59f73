package chat

import "time"

// Roles accepted by the store and forwarded to the providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Feedback values a reader can attach to an assistant message.
const (
	FeedbackThumbsUp   = "thumbs_up"
	FeedbackThumbsDown = "thumbs_down"
)

// Message is a single turn inside a conversation. Messages are totally
// ordered by (created_at, id); that order is the transcript shown to
// the providers.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Feedback       string    `json:"feedback,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
