package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttachmentKind classifies message attachments.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a reference to uploaded content carried by a message.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url"`
	Filename string         `json:"filename,omitempty"`
}

// MessageKind distinguishes user-authored messages from system notices.
type MessageKind string

const (
	MessageUser   MessageKind = "user"
	MessageSystem MessageKind = "system"
)

// DeletedPlaceholder is what a tombstoned message renders as.
const DeletedPlaceholder = "message deleted"

// Message is a chat message. Optimistic shadows use a temporary id (see
// NewTempID) until they are reconciled against the server-confirmed record.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Kind           MessageKind  `json:"kind"`
	ReadBy         []string     `json:"read_by"`
	Deleted        bool         `json:"deleted"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

const tempIDPrefix = "tmp-"

// NewTempID generates a client-local message id. The prefix keeps temporary
// ids distinguishable from server-assigned ones.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// HasReader reports whether userID is in the reader set.
func (m Message) HasReader(userID string) bool {
	for _, r := range m.ReadBy {
		if r == userID {
			return true
		}
	}
	return false
}

// MarkRead adds userID to the reader set. Repeated marks are no-ops.
func (m *Message) MarkRead(userID string) bool {
	if m.HasReader(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// Tombstone soft-deletes the message: content and attachments are cleared and
// never restored, the entry stays in place for ordering. Idempotent.
func (m *Message) Tombstone() bool {
	if m.Deleted {
		return false
	}
	m.Deleted = true
	m.Content = ""
	m.Attachments = nil
	return true
}

// DisplayContent returns the renderable text, substituting the deletion
// marker for tombstoned messages.
func (m Message) DisplayContent() string {
	if m.Deleted {
		return DeletedPlaceholder
	}
	return m.Content
}
