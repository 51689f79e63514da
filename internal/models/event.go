package models

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the realtime event types delivered over the transport.
type EventKind string

const (
	EventMessageCreated      EventKind = "message.created"
	EventMessageError        EventKind = "message.error"
	EventPresenceTyping      EventKind = "presence.typing"
	EventPresenceOnline      EventKind = "presence.online"
	EventPresenceOffline     EventKind = "presence.offline"
	EventConversationUpdated EventKind = "conversation.updated"
	EventConversationCreated EventKind = "conversation.created"
)

// Event is the wire envelope for all realtime events.
type Event struct {
	ConversationID  string          `json:"conversation_id,omitempty"`
	Type            EventKind       `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

// MessageErrorPayload reports a server-side send failure for a specific
// optimistic message.
type MessageErrorPayload struct {
	ClientTempID string `json:"client_temp_id"`
	Reason       string `json:"reason"`
}

// TypingPayload signals that a user started or stopped typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         int    `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresencePayload signals an online/offline transition for a user.
type PresencePayload struct {
	UserID   int       `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// DecodeMessage unmarshals the payload of a message.created event.
func (e Event) DecodeMessage() (Message, error) {
	var msg Message
	err := json.Unmarshal(e.Payload, &msg)
	return msg, err
}

// DecodeMessageError unmarshals the payload of a message.error event.
func (e Event) DecodeMessageError() (MessageErrorPayload, error) {
	var p MessageErrorPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeTyping unmarshals the payload of a presence.typing event.
func (e Event) DecodeTyping() (TypingPayload, error) {
	var p TypingPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodePresence unmarshals the payload of a presence.online/offline event.
func (e Event) DecodePresence() (PresencePayload, error) {
	var p PresencePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeConversation unmarshals the payload of a conversation.* event.
func (e Event) DecodeConversation() (Conversation, error) {
	var conv Conversation
	err := json.Unmarshal(e.Payload, &conv)
	return conv, err
}

// NewEvent builds an envelope with a marshalled payload. Marshal errors are
// impossible for the payload types used here, so they are swallowed.
func NewEvent(kind EventKind, conversationID string, payload any, ts time.Time) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		ConversationID:  conversationID,
		Type:            kind,
		Payload:         raw,
		ServerTimestamp: ts,
	}
}

// Command is a client-to-server instruction written on the transport.
type Command struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}

const (
	ActionJoin   = "join"
	ActionLeave  = "leave"
	ActionTyping = "typing"
)
