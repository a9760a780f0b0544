package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/chat"
	"chat-client/internal/models"
)

type APIMock struct {
	mock.Mock
}

func (m *APIMock) ListUsers(ctx context.Context, token string) ([]models.User, error) {
	args := m.Called(ctx, token)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *APIMock) ListMyConversations(ctx context.Context, token string) ([]models.Conversation, error) {
	args := m.Called(ctx, token)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *APIMock) CreateDirectConversation(ctx context.Context, token, otherUserID string) (models.Conversation, error) {
	args := m.Called(ctx, token, otherUserID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *APIMock) GetConversation(ctx context.Context, token, id string) (models.Conversation, error) {
	args := m.Called(ctx, token, id)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *APIMock) ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, token, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *APIMock) SendMessage(ctx context.Context, token, conversationID, content string, attachments []models.Attachment) (models.Message, error) {
	args := m.Called(ctx, token, conversationID, content, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) MarkRead(ctx context.Context, token, messageID string) error {
	args := m.Called(ctx, token, messageID)
	return args.Error(0)
}

func (m *APIMock) DeleteMessage(ctx context.Context, token, messageID string) error {
	args := m.Called(ctx, token, messageID)
	return args.Error(0)
}

// ChannelMock records realtime intents. Connected state is settable so tests
// can steer sends between the channel path and the REST fallback.
type ChannelMock struct {
	mock.Mock
}

func (m *ChannelMock) Connect(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *ChannelMock) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ChannelMock) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *ChannelMock) SetActive(conversationID string) {
	m.Called(conversationID)
}

func (m *ChannelMock) Join(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *ChannelMock) Leave(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *ChannelMock) SendMessage(conversationID, content string, attachments []models.Attachment) error {
	args := m.Called(conversationID, content, attachments)
	return args.Error(0)
}

func (m *ChannelMock) TypingStart(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *ChannelMock) TypingStop(conversationID string) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

func (m *ChannelMock) MarkRead(messageID string) error {
	args := m.Called(messageID)
	return args.Error(0)
}

func (m *ChannelMock) DeleteMessage(messageID string) error {
	args := m.Called(messageID)
	return args.Error(0)
}

var _ chat.API = (*APIMock)(nil)
var _ chat.Channel = (*ChannelMock)(nil)
