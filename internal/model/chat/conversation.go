package chat

import "time"

// DefaultTitle is the sentinel a conversation keeps until the title
// generator replaces it.
const DefaultTitle = "New Conversation"

// Conversation groups an ordered exchange of user and assistant turns.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
