package models

import (
	"encoding/json"
	"fmt"
)

// Intent types sent client -> server over the realtime channel.
const (
	IntentJoinRoom      = "join_room"
	IntentLeaveRoom     = "leave_room"
	IntentSendMessage   = "send_message"
	IntentTypingStart   = "typing_start"
	IntentTypingStop    = "typing_stop"
	IntentMarkRead      = "mark_read"
	IntentDeleteMessage = "delete_message"
)

// Event types received server -> client.
const (
	EventMessageCreated = "message_created"
	EventMessageRead    = "message_read"
	EventMessageDeleted = "message_deleted"
	EventTypingStarted  = "typing_started"
	EventTypingStopped  = "typing_stopped"
	EventError          = "error"
)

// ChannelIntent is a client -> server frame. Unused fields are omitted per
// intent type.
type ChannelIntent struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// ChannelEvent is a server -> client frame. Each event type maps to exactly
// one payload shape, enforced by DecodeEvent before the event is dispatched.
type ChannelEvent struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// DecodeEvent parses and validates an inbound channel frame. Unknown event
// types and malformed payloads are rejected so nothing loosely shaped reaches
// the reconciliation engine.
func DecodeEvent(data []byte) (ChannelEvent, error) {
	var ev ChannelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChannelEvent{}, fmt.Errorf("decode channel event: %w", err)
	}

	switch ev.Type {
	case EventMessageCreated:
		if ev.Message == nil || ev.Message.ID == "" || ev.Message.ConversationID == "" || ev.Message.SenderID == "" {
			return ChannelEvent{}, fmt.Errorf("event %s: incomplete message payload", ev.Type)
		}
	case EventMessageRead:
		if ev.MessageID == "" || ev.UserID == "" {
			return ChannelEvent{}, fmt.Errorf("event %s: message_id and user_id required", ev.Type)
		}
	case EventMessageDeleted:
		if ev.MessageID == "" {
			return ChannelEvent{}, fmt.Errorf("event %s: message_id required", ev.Type)
		}
	case EventTypingStarted, EventTypingStopped:
		if ev.ConversationID == "" || ev.UserID == "" {
			return ChannelEvent{}, fmt.Errorf("event %s: conversation_id and user_id required", ev.Type)
		}
	case EventError:
		// reason may be empty; the event is only ever logged
	default:
		return ChannelEvent{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
