package models

import "fmt"

// EventType is the closed set of event kinds carried by the broadcast bus.
// Adding a kind means updating ValidEventType and every switch over it.
type EventType string

const (
	EventChatMessage   EventType = "chat_message"
	EventUserJoin      EventType = "user_join"
	EventUserLeave     EventType = "user_leave"
	EventTyping        EventType = "typing"
	EventMessageEdit   EventType = "message_edit"
	EventMessageDelete EventType = "message_delete"
	EventReaction      EventType = "reaction"
)

// ValidEventType reports whether t is a known event kind.
func ValidEventType(t EventType) bool {
	switch t {
	case EventChatMessage, EventUserJoin, EventUserLeave, EventTyping,
		EventMessageEdit, EventMessageDelete, EventReaction:
		return true
	}
	return false
}

// Event is one room-scoped broadcast. Origin carries the publishing node id
// so a node can skip events it already delivered locally when they come
// back over the cross-node channel.
type Event struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Typing    bool      `json:"typing,omitempty"`
	Reaction  string    `json:"reaction,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp int64     `json:"ts"`
}

// Validate checks the fields required for the event's kind.
func (e *Event) Validate() error {
	if e.RoomID == "" {
		return fmt.Errorf("event missing room_id")
	}
	switch e.Type {
	case EventChatMessage:
		if e.Message == nil {
			return fmt.Errorf("chat_message event missing message")
		}
	case EventUserJoin, EventUserLeave, EventTyping:
		if e.UserID == "" {
			return fmt.Errorf("%s event missing user_id", e.Type)
		}
	case EventMessageEdit, EventMessageDelete:
		if e.MessageID == "" && e.Message == nil {
			return fmt.Errorf("%s event missing message reference", e.Type)
		}
	case EventReaction:
		if e.MessageID == "" || e.Reaction == "" {
			return fmt.Errorf("reaction event missing message_id or reaction")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
