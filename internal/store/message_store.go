package store

import (
	"errors"
	"sync"

	"chat-client/internal/models"
)

// ErrDuplicateMessage is returned by Append when a message with the same
// server-assigned id is already present in the conversation.
var ErrDuplicateMessage = errors.New("duplicate message id")

// MessageStore holds per-conversation ordered message lists. Append order is
// the authoritative display order; the store never re-sorts by timestamp.
type MessageStore struct {
	mu             sync.RWMutex
	byConversation map[string][]models.Message
	historyLoaded  map[string]bool
	historyErr     map[string]error
}

// NewMessageStore builds an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConversation: make(map[string][]models.Message),
		historyLoaded:  make(map[string]bool),
		historyErr:     make(map[string]error),
	}
}

// Get returns a copy of the conversation's messages in display order.
func (s *MessageStore) Get(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byConversation[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// HasHistory reports whether history has been fetched for the conversation.
func (s *MessageStore) HasHistory(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLoaded[conversationID]
}

// HistoryError returns the error flag left by a failed history fetch.
func (s *MessageStore) HistoryError(conversationID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyErr[conversationID]
}

// SetHistory populates a conversation from a REST history fetch. The fetch is
// trusted to be chronological; messages are stored in the given order.
// Locally pending shadows appended before the fetch completed are kept at the
// tail so an in-flight optimistic send is not lost.
func (s *MessageStore) SetHistory(conversationID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.Message
	for _, m := range s.byConversation[conversationID] {
		if models.IsTempID(m.ID) {
			pending = append(pending, m)
		}
	}

	list := make([]models.Message, 0, len(msgs)+len(pending))
	list = append(list, msgs...)
	list = append(list, pending...)
	s.byConversation[conversationID] = list
	s.historyLoaded[conversationID] = true
	delete(s.historyErr, conversationID)
}

// SetHistoryError records a failed history fetch: the list stays empty and
// the error is surfaced via HistoryError instead of stale data.
func (s *MessageStore) SetHistoryError(conversationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyErr[conversationID] = err
}

// Contains reports whether the conversation already holds the message id.
func (s *MessageStore) Contains(conversationID, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(conversationID, messageID) >= 0
}

// Append adds a message at the tail. Server-assigned ids are rejected if
// already present; temporary ids are always accepted (shadows are unique by
// construction).
func (s *MessageStore) Append(conversationID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !models.IsTempID(msg.ID) && s.indexOf(conversationID, msg.ID) >= 0 {
		return ErrDuplicateMessage
	}
	s.byConversation[conversationID] = append(s.byConversation[conversationID], msg)
	return nil
}

// Replace swaps the optimistic shadow tempID for the server-confirmed record,
// in place, keeping display order. This is the only way a temporary id turns
// into a server id.
func (s *MessageStore) Replace(conversationID, tempID string, confirmed models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(conversationID, tempID)
	if i < 0 {
		return false
	}
	s.byConversation[conversationID][i] = confirmed
	return true
}

// RemoveFirst removes the first message matching pred. Exactly one entry is
// removed even when several match.
func (s *MessageStore) RemoveFirst(conversationID string, pred func(models.Message) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byConversation[conversationID]
	for i, m := range msgs {
		if pred(m) {
			s.byConversation[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveWhere removes every message matching pred and returns the count.
func (s *MessageStore) RemoveWhere(conversationID string, pred func(models.Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byConversation[conversationID]
	kept := msgs[:0:0]
	removed := 0
	for _, m := range msgs {
		if pred(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	if removed > 0 {
		s.byConversation[conversationID] = kept
	}
	return removed
}

// MarkRead adds readerID to the message's reader set. Idempotent.
func (s *MessageStore) MarkRead(conversationID, messageID, readerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(conversationID, messageID)
	if i < 0 {
		return false
	}
	return s.byConversation[conversationID][i].MarkRead(readerID)
}

// MarkDeleted tombstones the message. Idempotent.
func (s *MessageStore) MarkDeleted(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(conversationID, messageID)
	if i < 0 {
		return false
	}
	s.byConversation[conversationID][i].Tombstone()
	return true
}

// MarkReadByID locates messageID across conversations and marks it read.
// The channel's read-receipt event carries only the message id, so the owning
// conversation is resolved here. Returns the conversation id when found.
func (s *MessageStore) MarkReadByID(messageID, readerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, i := s.locate(messageID)
	if i < 0 {
		return "", false
	}
	s.byConversation[conversationID][i].MarkRead(readerID)
	return conversationID, true
}

// MarkDeletedByID locates messageID across conversations and tombstones it.
func (s *MessageStore) MarkDeletedByID(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, i := s.locate(messageID)
	if i < 0 {
		return "", false
	}
	s.byConversation[conversationID][i].Tombstone()
	return conversationID, true
}

// FindByID returns a message looked up across all conversations.
func (s *MessageStore) FindByID(messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversationID, i := s.locate(messageID)
	if i < 0 {
		return models.Message{}, false
	}
	return s.byConversation[conversationID][i], true
}

func (s *MessageStore) indexOf(conversationID, messageID string) int {
	for i, m := range s.byConversation[conversationID] {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

func (s *MessageStore) locate(messageID string) (string, int) {
	for conversationID := range s.byConversation {
		if i := s.indexOf(conversationID, messageID); i >= 0 {
			return conversationID, i
		}
	}
	return "", -1
}
