package models

import "time"

// ConversationKind distinguishes direct, team and workspace channels.
type ConversationKind string

const (
	KindDirect    ConversationKind = "direct"
	KindTeam      ConversationKind = "team"
	KindWorkspace ConversationKind = "workspace"
)

// Conversation is a logical chat channel as served by the backend.
type Conversation struct {
	ID             string           `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Title          string           `json:"title,omitempty"`
	ParticipantIDs []int            `json:"participant_ids"`
	CreatedAt      time.Time        `json:"created_at"`
	LastMessage    *MessageSummary  `json:"last_message,omitempty"`
}

// MessageSummary is the last-message preview carried on a conversation.
type MessageSummary struct {
	MessageID string    `json:"message_id"`
	AuthorID  int       `json:"author_id"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary is the room-list view of a conversation with derived
// client-side state.
type ConversationSummary struct {
	Conversation
	Unread bool `json:"unread"`
}

// ActivityTime returns the timestamp used to order the room list: the last
// message timestamp when present, the conversation creation time otherwise.
func (c ConversationSummary) ActivityTime() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}
