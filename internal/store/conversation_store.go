package store

import (
	"sort"
	"sync"
	"time"

	"chat-client/internal/models"
)

// ConversationView is the list-rendering projection of a conversation:
// the entity plus derived display fields.
type ConversationView struct {
	models.Conversation
	CounterpartID string
	Unread        int
}

// ConversationStore holds the session's conversations in memory. It performs
// no I/O; the read pump and UI goroutines interleave, so access is guarded.
type ConversationStore struct {
	mu          sync.RWMutex
	localUserID string
	byID        map[string]*conversationEntry
}

type conversationEntry struct {
	conv   models.Conversation
	unread int
}

// NewConversationStore builds an empty store scoped to the local user, who is
// the reference point for counterpart derivation.
func NewConversationStore(localUserID string) *ConversationStore {
	return &ConversationStore{
		localUserID: localUserID,
		byID:        make(map[string]*conversationEntry),
	}
}

// List returns conversations ordered by recency: last message first, falling
// back to creation time for conversations with no messages yet.
func (s *ConversationStore) List() []ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]ConversationView, 0, len(s.byID))
	for _, e := range s.byID {
		view := ConversationView{Conversation: e.conv, Unread: e.unread}
		if counterpart, ok := e.conv.Counterpart(s.localUserID); ok {
			view.CounterpartID = counterpart
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].recency().After(views[j].recency())
	})
	return views
}

func (v ConversationView) recency() time.Time {
	if !v.LastMessageAt.IsZero() {
		return v.LastMessageAt
	}
	return v.CreatedAt
}

// Get fetches a conversation by id.
func (s *ConversationStore) Get(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return models.Conversation{}, false
	}
	return e.conv, true
}

// Upsert inserts or replaces a conversation, preserving the unread counter.
func (s *ConversationStore) Upsert(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[conv.ID]; ok {
		e.conv = conv
		return
	}
	s.byID[conv.ID] = &conversationEntry{conv: conv}
}

// FindByCounterpart returns the direct conversation with userID, if the local
// party has one. Used to avoid duplicate direct-conversation creation.
func (s *ConversationStore) FindByCounterpart(userID string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.byID {
		if counterpart, ok := e.conv.Counterpart(s.localUserID); ok && counterpart == userID {
			return e.conv, true
		}
	}
	return models.Conversation{}, false
}

// TouchPreview updates the denormalized last-message fields.
func (s *ConversationStore) TouchPreview(id, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return
	}
	e.conv.LastMessagePreview = text
	e.conv.LastMessageAt = at
	e.conv.UpdatedAt = at
}

// IncrementUnread bumps the unread counter for a conversation.
func (s *ConversationStore) IncrementUnread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		e.unread++
	}
}

// ResetUnread clears the unread counter for a conversation.
func (s *ConversationStore) ResetUnread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		e.unread = 0
	}
}

// Unread reports the unread counter for a conversation.
func (s *ConversationStore) Unread(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byID[id]; ok {
		return e.unread
	}
	return 0
}
