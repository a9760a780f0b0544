package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.NotEqual(t, id, NewTempID())
	assert.False(t, IsTempID("m42"))
}

func TestMarkReadIdempotent(t *testing.T) {
	msg := Message{ID: "m1", SenderID: "alice", ReadBy: []string{"alice"}}

	require.True(t, msg.MarkRead("bob"))
	require.False(t, msg.MarkRead("bob"))
	assert.Equal(t, []string{"alice", "bob"}, msg.ReadBy)
}

func TestTombstoneClearsContentForGood(t *testing.T) {
	msg := Message{
		ID:          "m1",
		Content:     "secret",
		Attachments: []Attachment{{Kind: AttachmentImage, URL: "http://x/img.png"}},
	}

	require.True(t, msg.Tombstone())
	assert.True(t, msg.Deleted)
	assert.Empty(t, msg.Content)
	assert.Nil(t, msg.Attachments)
	assert.Equal(t, DeletedPlaceholder, msg.DisplayContent())

	// second delete is a no-op
	require.False(t, msg.Tombstone())
	assert.Equal(t, DeletedPlaceholder, msg.DisplayContent())
}

func TestCounterpart(t *testing.T) {
	conv := Conversation{
		ID:   "c1",
		Kind: ConversationDirect,
		Participants: []Participant{
			{UserID: "alice"},
			{UserID: "bob"},
		},
	}

	counterpart, ok := conv.Counterpart("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", counterpart)

	counterpart, ok = conv.Counterpart("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", counterpart)

	_, ok = conv.Counterpart("mallory")
	assert.False(t, ok)

	group := Conversation{
		ID:           "g1",
		Kind:         ConversationGroup,
		Participants: []Participant{{UserID: "alice"}, {UserID: "bob"}, {UserID: "carol"}},
	}
	_, ok = group.Counterpart("alice")
	assert.False(t, ok)
}
