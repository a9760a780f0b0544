package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/store"
)

var (
	// ErrConversationNotFound is returned by Select for unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrDirectCreateInFlight guards against a rapid double StartDirectWith
	// for the same user before the first create resolves.
	ErrDirectCreateInFlight = errors.New("direct conversation creation already in flight")
)

// API is the REST collaborator consumed by the session. The bearer credential
// is a per-call parameter; the session injects it.
type API interface {
	ListUsers(ctx context.Context, token string) ([]models.User, error)
	ListMyConversations(ctx context.Context, token string) ([]models.Conversation, error)
	CreateDirectConversation(ctx context.Context, token, otherUserID string) (models.Conversation, error)
	GetConversation(ctx context.Context, token, id string) (models.Conversation, error)
	ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, token, conversationID, content string, attachments []models.Attachment) (models.Message, error)
	MarkRead(ctx context.Context, token, messageID string) error
	DeleteMessage(ctx context.Context, token, messageID string) error
}

// Channel is the realtime collaborator consumed by the session.
type Channel interface {
	Connect(ctx context.Context, token string) error
	Disconnect() error
	Connected() bool
	SetActive(conversationID string)
	Join(conversationID string) error
	Leave(conversationID string) error
	SendMessage(conversationID, content string, attachments []models.Attachment) error
	TypingStart(conversationID string) error
	TypingStop(conversationID string) error
	MarkRead(messageID string) error
	DeleteMessage(messageID string) error
}

// Listener observes inbound events after the session has applied them.
type Listener func(ev models.ChannelEvent)

// defaultTypingIdle is how long after the last keystroke typing_stop fires.
const defaultTypingIdle = time.Second

// Config wires a Session.
type Config struct {
	UserID     string
	Token      string
	API        API
	Channel    Channel
	TypingIdle time.Duration
}

// Session is the top-level chat orchestrator exposed to the UI. It owns the
// active conversation, drives room membership, routes user intents to the
// REST and realtime collaborators, and folds inbound events into the stores.
type Session struct {
	userID  string
	token   string
	api     API
	channel Channel

	conversations *store.ConversationStore
	messages      *store.MessageStore
	recon         *Reconciler

	typingIdle time.Duration
	now        func() time.Time

	mu            sync.Mutex
	active        string
	typingActive  bool
	typingTimer   *time.Timer
	typingUsers   map[string]map[string]bool
	pendingDirect map[string]struct{}
	listener      Listener
}

// NewSession builds a Session. The credential is injected once here and
// passed explicitly to collaborators; no ambient client state is mutated.
func NewSession(cfg Config) *Session {
	idle := cfg.TypingIdle
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	messages := store.NewMessageStore()
	return &Session{
		userID:        cfg.UserID,
		token:         cfg.Token,
		api:           cfg.API,
		channel:       cfg.Channel,
		conversations: store.NewConversationStore(cfg.UserID),
		messages:      messages,
		recon:         NewReconciler(messages, cfg.UserID),
		typingIdle:    idle,
		now:           time.Now,
		typingUsers:   make(map[string]map[string]bool),
		pendingDirect: make(map[string]struct{}),
	}
}

// SetListener installs a hook invoked after each inbound event is applied.
func (s *Session) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Start loads the conversation list and brings the channel up. A failed
// channel connect is logged, not fatal: sends fall back to REST until the
// transport recovers.
func (s *Session) Start(ctx context.Context) error {
	convs, err := s.api.ListMyConversations(ctx, s.token)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		s.conversations.Upsert(conv)
	}

	if err := s.channel.Connect(ctx, s.token); err != nil {
		log.Printf("channel connect failed, continuing on REST only: %v", err)
	}
	return nil
}

// Close tears the session down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingActive = false
	s.mu.Unlock()
	return s.channel.Disconnect()
}

// Users fetches the addressable-user directory.
func (s *Session) Users(ctx context.Context) ([]models.User, error) {
	return s.api.ListUsers(ctx, s.token)
}

// Conversations returns the conversation list in recency order.
func (s *Session) Conversations() []store.ConversationView {
	return s.conversations.List()
}

// Messages returns the display-ordered messages of a conversation.
func (s *Session) Messages(conversationID string) []models.Message {
	return s.messages.Get(conversationID)
}

// HistoryError reports the error flag of a failed history fetch.
func (s *Session) HistoryError(conversationID string) error {
	return s.messages.HistoryError(conversationID)
}

// Active returns the currently selected conversation id, empty if none.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// TypingUsers lists users currently typing in a conversation.
func (s *Session) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typingUsers[conversationID]
	users := make([]string, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Select makes a conversation active: leave the previous room, join the new
// one, fetch history on first open and reset the unread counter.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	if _, ok := s.conversations.Get(conversationID); !ok {
		return ErrConversationNotFound
	}

	s.mu.Lock()
	prev := s.active
	if prev == conversationID {
		s.mu.Unlock()
		s.conversations.ResetUnread(conversationID)
		return nil
	}
	s.active = conversationID
	wasTyping := s.stopTypingLocked()
	s.mu.Unlock()

	if wasTyping && prev != "" {
		if err := s.channel.TypingStop(prev); err != nil {
			log.Printf("typing_stop dropped conversation=%s: %v", prev, err)
		}
	}
	if prev != "" {
		if err := s.channel.Leave(prev); err != nil {
			log.Printf("leave_room dropped conversation=%s: %v", prev, err)
		}
	}
	s.channel.SetActive(conversationID)
	if err := s.channel.Join(conversationID); err != nil {
		log.Printf("join_room dropped conversation=%s: %v", conversationID, err)
	}

	if !s.messages.HasHistory(conversationID) {
		msgs, err := s.api.ListMessages(ctx, s.token, conversationID)
		if err != nil {
			s.messages.SetHistoryError(conversationID, err)
			return err
		}
		s.messages.SetHistory(conversationID, msgs)
	}

	s.conversations.ResetUnread(conversationID)
	return nil
}

// StartDirectWith opens the direct conversation with userID, creating it via
// REST only when no counterpart match is cached locally.
func (s *Session) StartDirectWith(ctx context.Context, userID string) (models.Conversation, error) {
	if conv, ok := s.conversations.FindByCounterpart(userID); ok {
		return conv, s.Select(ctx, conv.ID)
	}

	s.mu.Lock()
	if _, pending := s.pendingDirect[userID]; pending {
		s.mu.Unlock()
		return models.Conversation{}, ErrDirectCreateInFlight
	}
	s.pendingDirect[userID] = struct{}{}
	s.mu.Unlock()

	conv, err := s.api.CreateDirectConversation(ctx, s.token, userID)

	s.mu.Lock()
	delete(s.pendingDirect, userID)
	s.mu.Unlock()

	if err != nil {
		return models.Conversation{}, err
	}
	s.conversations.Upsert(conv)
	return conv, s.Select(ctx, conv.ID)
}

// Send delivers text and attachments to the active conversation. An
// optimistic shadow is inserted synchronously; delivery goes over the channel
// when connected and falls back to REST otherwise. A failed send removes the
// shadow so no permanent "sending" ghost remains.
func (s *Session) Send(ctx context.Context, text string, attachments ...models.Attachment) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	active := s.active
	wasTyping := s.stopTypingLocked()
	s.mu.Unlock()

	if active == "" || (text == "" && len(attachments) == 0) {
		return nil
	}
	if wasTyping {
		if err := s.channel.TypingStop(active); err != nil {
			log.Printf("typing_stop dropped conversation=%s: %v", active, err)
		}
	}

	now := s.now()
	shadow := models.Message{
		ID:             models.NewTempID(),
		ConversationID: active,
		SenderID:       s.userID,
		Content:        text,
		Attachments:    attachments,
		Kind:           models.MessageUser,
		ReadBy:         []string{s.userID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.messages.Append(active, shadow); err != nil {
		return err
	}
	s.conversations.TouchPreview(active, preview(shadow), now)

	if s.channel.Connected() {
		if err := s.channel.SendMessage(active, text, attachments); err == nil {
			observability.IncSend("channel")
			return nil
		}
	}

	confirmed, err := s.api.SendMessage(ctx, s.token, active, text, attachments)
	if err != nil {
		s.messages.RemoveFirst(active, func(m models.Message) bool { return m.ID == shadow.ID })
		return err
	}
	observability.IncSend("rest_fallback")

	if !s.messages.Replace(active, shadow.ID, confirmed) {
		// The push echo raced ahead and already reconciled the shadow;
		// append only if the confirmed record is somehow still missing.
		if !s.messages.Contains(active, confirmed.ID) {
			_ = s.messages.Append(active, confirmed)
		}
	}
	return nil
}

// MarkRead records a read receipt durably via REST and mirrors it on the
// channel. Both sides are idempotent.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	if err := s.api.MarkRead(ctx, s.token, messageID); err != nil {
		return err
	}
	if err := s.channel.MarkRead(messageID); err != nil {
		log.Printf("mark_read intent dropped message=%s: %v", messageID, err)
	}
	s.messages.MarkReadByID(messageID, s.userID)
	return nil
}

// Delete tombstones a message durably via REST and mirrors it on the channel.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.api.DeleteMessage(ctx, s.token, messageID); err != nil {
		return err
	}
	if err := s.channel.DeleteMessage(messageID); err != nil {
		log.Printf("delete_message intent dropped message=%s: %v", messageID, err)
	}
	s.messages.MarkDeletedByID(messageID)
	return nil
}

// Draft reports the current draft text of the active conversation. The first
// keystroke of a burst emits typing_start; each keystroke re-arms the idle
// timer; the timer firing emits typing_stop. One intent per burst each way.
func (s *Session) Draft(text string) {
	s.mu.Lock()
	active := s.active
	if active == "" {
		s.mu.Unlock()
		return
	}

	if strings.TrimSpace(text) == "" {
		wasTyping := s.stopTypingLocked()
		s.mu.Unlock()
		if wasTyping {
			if err := s.channel.TypingStop(active); err != nil {
				log.Printf("typing_stop dropped conversation=%s: %v", active, err)
			}
		}
		return
	}

	emitStart := !s.typingActive
	s.typingActive = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingIdle, s.typingIdleTimeout)
	s.mu.Unlock()

	if emitStart {
		if err := s.channel.TypingStart(active); err != nil {
			log.Printf("typing_start dropped conversation=%s: %v", active, err)
		}
	}
}

func (s *Session) typingIdleTimeout() {
	s.mu.Lock()
	if !s.typingActive {
		s.mu.Unlock()
		return
	}
	s.typingActive = false
	s.typingTimer = nil
	active := s.active
	s.mu.Unlock()

	if active != "" {
		if err := s.channel.TypingStop(active); err != nil {
			log.Printf("typing_stop dropped conversation=%s: %v", active, err)
		}
	}
}

// stopTypingLocked clears the typing state and timer. The caller holds s.mu
// and emits typing_stop itself when the returned flag is set.
func (s *Session) stopTypingLocked() bool {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	wasTyping := s.typingActive
	s.typingActive = false
	return wasTyping
}

// HandleChannelEvent folds one validated inbound event into the stores.
// It runs on the channel's read pump.
func (s *Session) HandleChannelEvent(ev models.ChannelEvent) {
	switch ev.Type {
	case models.EventMessageCreated:
		s.handleMessageCreated(*ev.Message)
	case models.EventMessageRead:
		s.messages.MarkReadByID(ev.MessageID, ev.UserID)
	case models.EventMessageDeleted:
		s.messages.MarkDeletedByID(ev.MessageID)
	case models.EventTypingStarted:
		if ev.UserID != s.userID {
			s.setTypingUser(ev.ConversationID, ev.UserID, true)
		}
	case models.EventTypingStopped:
		s.setTypingUser(ev.ConversationID, ev.UserID, false)
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(ev)
	}
}

func (s *Session) handleMessageCreated(msg models.Message) {
	outcome := s.recon.Apply(msg)
	observability.IncReconciliation(string(outcome))
	if outcome == OutcomeDiscarded {
		return
	}

	// First contact initiated by the remote party: the conversation is not
	// cached yet, fetch it so the list can render.
	if _, ok := s.conversations.Get(msg.ConversationID); !ok {
		conv, err := s.api.GetConversation(context.Background(), s.token, msg.ConversationID)
		if err != nil {
			log.Printf("conversation catch-up failed id=%s: %v", msg.ConversationID, err)
		} else {
			s.conversations.Upsert(conv)
		}
	}
	s.conversations.TouchPreview(msg.ConversationID, preview(msg), msg.CreatedAt)

	if msg.SenderID == s.userID {
		return
	}
	s.setTypingUser(msg.ConversationID, msg.SenderID, false)

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if msg.ConversationID != active {
		s.conversations.IncrementUnread(msg.ConversationID)
	}
}

func (s *Session) setTypingUser(conversationID, userID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typingUsers[conversationID]
	if typing {
		if set == nil {
			set = make(map[string]bool)
			s.typingUsers[conversationID] = set
		}
		set[userID] = true
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.typingUsers, conversationID)
	}
}

func preview(msg models.Message) string {
	if msg.Deleted {
		return models.DeletedPlaceholder
	}
	if msg.Content != "" {
		return msg.Content
	}
	if len(msg.Attachments) > 0 {
		return "[attachment]"
	}
	return ""
}
