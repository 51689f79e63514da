package models

import "time"

// DeliveryState tracks a message through the optimistic send lifecycle.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// Message represents a chat message. ID is server-assigned and stable once
// confirmed; ClientTempID identifies the message before confirmation.
type Message struct {
	ID             string        `json:"id,omitempty"`
	ClientTempID   string        `json:"client_temp_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	AuthorID       int           `json:"author_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	DeliveryState  DeliveryState `json:"delivery_state"`
}

// Summary converts a message into its room-list preview form.
func (m Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		AuthorID:  m.AuthorID,
		Preview:   m.Content,
		Timestamp: m.CreatedAt,
	}
}
