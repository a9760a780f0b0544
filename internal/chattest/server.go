// Package chattest provides an in-memory chat backend used by the end-to-end
// tests and the -devserver mode. It implements the REST endpoints and the
// realtime room fan-out the client consumes, with no durable state.
package chattest

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the fake backend. All state lives behind one mutex; this is test
// infrastructure, not a scalable hub.
type Server struct {
	mu            sync.Mutex
	router        *gin.Engine
	tokens        map[string]string
	users         map[string]models.User
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	messageConv   map[string]string
	rooms         map[string]map[*websocket.Conn]string
	clients       map[*websocket.Conn]string
	seq           int
}

// NewServer builds an empty fake backend.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		tokens:        make(map[string]string),
		users:         make(map[string]models.User),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		messageConv:   make(map[string]string),
		rooms:         make(map[string]map[*websocket.Conn]string),
		clients:       make(map[*websocket.Conn]string),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-devserver"))

	auth := s.authMiddleware()
	router.GET("/users", auth, s.listUsers)
	router.GET("/conversations", auth, s.listConversations)
	router.POST("/conversations", auth, s.createConversation)
	router.GET("/conversations/:conversation_id", auth, s.getConversation)
	router.GET("/conversations/:conversation_id/messages", auth, s.listMessages)
	router.POST("/conversations/:conversation_id/messages", auth, s.postMessage)
	router.POST("/messages/:message_id/read", auth, s.markRead)
	router.DELETE("/messages/:message_id", auth, s.deleteMessage)
	router.GET("/ws", s.handleWS)

	s.router = router
	return s
}

// Handler exposes the backend as an http.Handler for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddUser registers a user and the bearer token that authenticates it.
func (s *Server) AddUser(user models.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	s.tokens[token] = user.ID
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		s.mu.Lock()
		userID, ok := s.tokens[parts[1]]
		s.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.GetString("userID")
	s.mu.Lock()
	convs := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, conv)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Type   string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetString("userID")
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent: re-yield the existing direct conversation for the pair.
	for _, conv := range s.conversations {
		if conv.Kind == models.ConversationDirect &&
			conv.HasParticipant(userID) && conv.HasParticipant(req.UserID) {
			c.JSON(http.StatusOK, conv)
			return
		}
	}

	now := time.Now().UTC()
	s.seq++
	conv := models.Conversation{
		ID:   fmt.Sprintf("c%d", s.seq),
		Kind: models.ConversationDirect,
		Participants: []models.Participant{
			{UserID: userID, Role: "member", JoinedAt: now},
			{UserID: req.UserID, Role: "member", JoinedAt: now},
		},
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	s.mu.Lock()
	conv, ok := s.conversations[c.Param("conversation_id")]
	s.mu.Unlock()
	if !ok || !conv.HasParticipant(c.GetString("userID")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.HasParticipant(c.GetString("userID")) {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	msgs := make([]models.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) postMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	var req struct {
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.HasParticipant(userID) {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	msg := s.createMessageLocked(conversationID, userID, req.Content, req.Attachments)
	s.notifyParticipantsLocked(conversationID, models.ChannelEvent{
		Type:    models.EventMessageCreated,
		Message: &msg,
	})
	s.mu.Unlock()

	c.JSON(http.StatusCreated, msg)
}

func (s *Server) markRead(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	s.mu.Lock()
	if s.markReadLocked(messageID, userID) {
		s.notifyParticipantsLocked(s.messageConv[messageID], models.ChannelEvent{
			Type:      models.EventMessageRead,
			MessageID: messageID,
			UserID:    userID,
		})
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")

	s.mu.Lock()
	if s.tombstoneLocked(messageID) {
		s.notifyParticipantsLocked(s.messageConv[messageID], models.ChannelEvent{
			Type:      models.EventMessageDeleted,
			MessageID: messageID,
		})
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWS(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if token != "" {
		parts := strings.SplitN(token, " ", 2)
		if len(parts) == 2 {
			token = parts[1]
		}
	} else {
		token = c.Query("token")
	}

	s.mu.Lock()
	userID, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.clients[conn] = userID
	s.mu.Unlock()

	go s.readLoop(conn, userID)
}

func (s *Server) readLoop(conn *websocket.Conn, userID string) {
	defer func() {
		s.mu.Lock()
		for _, members := range s.rooms {
			delete(members, conn)
		}
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var intent models.ChannelIntent
		if err := conn.ReadJSON(&intent); err != nil {
			return
		}
		s.applyIntent(conn, userID, intent)
	}
}

func (s *Server) applyIntent(conn *websocket.Conn, userID string, intent models.ChannelIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch intent.Type {
	case models.IntentJoinRoom:
		conv, ok := s.conversations[intent.ConversationID]
		if !ok || !conv.HasParticipant(userID) {
			s.writeLocked(conn, models.ChannelEvent{Type: models.EventError, Reason: "not a participant"})
			return
		}
		if s.rooms[intent.ConversationID] == nil {
			s.rooms[intent.ConversationID] = make(map[*websocket.Conn]string)
		}
		s.rooms[intent.ConversationID][conn] = userID

	case models.IntentLeaveRoom:
		delete(s.rooms[intent.ConversationID], conn)

	case models.IntentSendMessage:
		conv, ok := s.conversations[intent.ConversationID]
		if !ok || !conv.HasParticipant(userID) {
			s.writeLocked(conn, models.ChannelEvent{Type: models.EventError, Reason: "not a participant"})
			return
		}
		msg := s.createMessageLocked(intent.ConversationID, userID, intent.Content, intent.Attachments)
		s.notifyParticipantsLocked(intent.ConversationID, models.ChannelEvent{
			Type:    models.EventMessageCreated,
			Message: &msg,
		})

	case models.IntentTypingStart:
		s.broadcastLocked(intent.ConversationID, models.ChannelEvent{
			Type:           models.EventTypingStarted,
			ConversationID: intent.ConversationID,
			UserID:         userID,
		})

	case models.IntentTypingStop:
		s.broadcastLocked(intent.ConversationID, models.ChannelEvent{
			Type:           models.EventTypingStopped,
			ConversationID: intent.ConversationID,
			UserID:         userID,
		})

	case models.IntentMarkRead:
		if s.markReadLocked(intent.MessageID, userID) {
			s.notifyParticipantsLocked(s.messageConv[intent.MessageID], models.ChannelEvent{
				Type:      models.EventMessageRead,
				MessageID: intent.MessageID,
				UserID:    userID,
			})
		}

	case models.IntentDeleteMessage:
		if s.tombstoneLocked(intent.MessageID) {
			s.notifyParticipantsLocked(s.messageConv[intent.MessageID], models.ChannelEvent{
				Type:      models.EventMessageDeleted,
				MessageID: intent.MessageID,
			})
		}

	default:
		s.writeLocked(conn, models.ChannelEvent{Type: models.EventError, Reason: "unknown intent " + intent.Type})
	}
}

func (s *Server) createMessageLocked(conversationID, senderID, content string, attachments []models.Attachment) models.Message {
	now := time.Now().UTC()
	s.seq++
	msg := models.Message{
		ID:             fmt.Sprintf("m%d", s.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		Kind:           models.MessageUser,
		ReadBy:         []string{senderID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.messageConv[msg.ID] = conversationID

	conv := s.conversations[conversationID]
	conv.LastMessageAt = now
	conv.LastMessagePreview = content
	conv.UpdatedAt = now
	s.conversations[conversationID] = conv
	return msg
}

func (s *Server) markReadLocked(messageID, readerID string) bool {
	conversationID, ok := s.messageConv[messageID]
	if !ok {
		return false
	}
	for i := range s.messages[conversationID] {
		if s.messages[conversationID][i].ID == messageID {
			s.messages[conversationID][i].MarkRead(readerID)
			return true
		}
	}
	return false
}

func (s *Server) tombstoneLocked(messageID string) bool {
	conversationID, ok := s.messageConv[messageID]
	if !ok {
		return false
	}
	for i := range s.messages[conversationID] {
		if s.messages[conversationID][i].ID == messageID {
			s.messages[conversationID][i].Tombstone()
			return true
		}
	}
	return false
}

// broadcastLocked fans out to the conversation's room. Typing hints use this:
// only clients that joined the room care.
func (s *Server) broadcastLocked(conversationID string, event models.ChannelEvent) {
	for conn := range s.rooms[conversationID] {
		s.writeLocked(conn, event)
	}
}

// notifyParticipantsLocked fans out to every connected participant of the
// conversation, joined or not. Message events use this so clients can keep
// unread counters and previews for conversations they are not looking at.
func (s *Server) notifyParticipantsLocked(conversationID string, event models.ChannelEvent) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for conn, userID := range s.clients {
		if conv.HasParticipant(userID) {
			s.writeLocked(conn, event)
		}
	}
}

func (s *Server) writeLocked(conn *websocket.Conn, event models.ChannelEvent) {
	if err := conn.WriteJSON(event); err != nil {
		conn.Close()
		delete(s.clients, conn)
		for _, members := range s.rooms {
			delete(members, conn)
		}
	}
}
