package models

import "time"

// ConversationKind distinguishes two-party chats from group chats.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Participant records a member of a conversation with its join-time snapshot.
type Participant struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Conversation is a direct or group chat. For direct conversations the
// counterpart is derived from the participant list, never stored.
type Conversation struct {
	ID                 string           `json:"id"`
	Kind               ConversationKind `json:"kind"`
	Title              string           `json:"title,omitempty"`
	Participants       []Participant    `json:"participants"`
	CreatedBy          string           `json:"created_by"`
	ContextTag         string           `json:"context_tag,omitempty"`
	ContextID          string           `json:"context_id,omitempty"`
	LastMessageAt      time.Time        `json:"last_message_at"`
	LastMessagePreview string           `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// HasParticipant reports whether userID is a member.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant of a direct conversation as seen
// by localUserID. It returns false for group conversations and for direct
// conversations the local user is not part of.
func (c Conversation) Counterpart(localUserID string) (string, bool) {
	if c.Kind != ConversationDirect || len(c.Participants) != 2 {
		return "", false
	}
	if !c.HasParticipant(localUserID) {
		return "", false
	}
	for _, p := range c.Participants {
		if p.UserID != localUserID {
			return p.UserID, true
		}
	}
	return "", false
}
