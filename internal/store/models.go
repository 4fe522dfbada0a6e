package store

import (
	"time"

	"gwi.com/cited-answers/internal/citation"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"user_id"`
	Title     *string   `json:"title"` // Nullable until generated
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string                  `json:"id"` // UUID
	ConversationID string                  `json:"conversation_id"`
	Role           string                  `json:"role"` // "user" or "assistant"
	Content        string                  `json:"content"`
	Citations      []*citation.RawCitation `json:"citations,omitempty"`
	Feedback       *string                 `json:"feedback,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// RawAnswer adapts an assistant message to the citation parser's input.
func (m Message) RawAnswer() citation.RawAnswer {
	raw := citation.RawAnswer{
		MessageID:    m.ID,
		Text:         m.Content,
		RawCitations: m.Citations,
	}
	if m.Feedback != nil {
		raw.RawFeedback = *m.Feedback
	}
	return raw
}

// Document is a searchable source that answers cite.
type Document struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"` // Internal, never serialized to clients
}
