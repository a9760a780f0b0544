package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/chat"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
)

type sessionFixture struct {
	api     *mocks.APIMock
	channel *mocks.ChannelMock
	session *chat.Session
}

func newSessionFixture(t *testing.T, typingIdle time.Duration) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		api:     new(mocks.APIMock),
		channel: new(mocks.ChannelMock),
	}
	f.session = chat.NewSession(chat.Config{
		UserID:     "alice",
		Token:      "alice-token",
		API:        f.api,
		Channel:    f.channel,
		TypingIdle: typingIdle,
	})
	return f
}

func directWith(id, other string) models.Conversation {
	return models.Conversation{
		ID:   id,
		Kind: models.ConversationDirect,
		Participants: []models.Participant{
			{UserID: "alice"},
			{UserID: other},
		},
		CreatedAt: time.Now(),
	}
}

// start runs Start with the given cached conversations and a healthy channel.
func (f *sessionFixture) start(t *testing.T, convs ...models.Conversation) {
	t.Helper()
	f.api.On("ListMyConversations", mock.Anything, "alice-token").Return(convs, nil).Once()
	f.channel.On("Connect", mock.Anything, "alice-token").Return(nil).Once()
	require.NoError(t, f.session.Start(context.Background()))
}

// expectSelect arms the channel calls Select makes for a first open.
func (f *sessionFixture) expectSelect(conversationID string, history []models.Message) {
	f.channel.On("SetActive", conversationID).Return()
	f.channel.On("Join", conversationID).Return(nil)
	f.api.On("ListMessages", mock.Anything, "alice-token", conversationID).Return(history, nil).Once()
}

func TestStartLoadsConversations(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"), directWith("c2", "carol"))

	views := f.session.Conversations()
	require.Len(t, views, 2)
	f.api.AssertExpectations(t)
	f.channel.AssertExpectations(t)
}

func TestStartSurvivesChannelConnectFailure(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.api.On("ListMyConversations", mock.Anything, "alice-token").Return(nil, nil).Once()
	f.channel.On("Connect", mock.Anything, "alice-token").Return(errors.New("dial tcp: refused")).Once()

	require.NoError(t, f.session.Start(context.Background()))
}

func TestSelectUnknownConversation(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t)

	err := f.session.Select(context.Background(), "ghost")
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestSelectFetchesHistoryOnce(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"), directWith("c2", "carol"))
	f.expectSelect("c1", []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hey"},
	})
	f.expectSelect("c2", nil)
	f.channel.On("Leave", mock.Anything).Return(nil)

	require.NoError(t, f.session.Select(context.Background(), "c1"))
	require.NoError(t, f.session.Select(context.Background(), "c2"))
	// back to c1: history is cached, no second fetch
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	assert.Equal(t, "c1", f.session.Active())
	assert.Len(t, f.session.Messages("c1"), 1)
	f.api.AssertNumberOfCalls(t, "ListMessages", 2)
	f.channel.AssertCalled(t, "Leave", "c1")
	f.channel.AssertCalled(t, "Leave", "c2")
}

func TestSelectHistoryFetchFailure(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.channel.On("SetActive", "c1").Return()
	f.channel.On("Join", "c1").Return(nil)
	fetchErr := errors.New("502 bad gateway")
	f.api.On("ListMessages", mock.Anything, "alice-token", "c1").Return(nil, fetchErr).Once()

	err := f.session.Select(context.Background(), "c1")

	require.ErrorIs(t, err, fetchErr)
	assert.ErrorIs(t, f.session.HistoryError("c1"), fetchErr)
	assert.Empty(t, f.session.Messages("c1"))
}

func TestSendOverChannelThenEcho(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.channel.On("Connected").Return(true)
	f.channel.On("SendMessage", "c1", "hello", mock.Anything).Return(nil).Once()

	require.NoError(t, f.session.Send(context.Background(), "hello"))

	msgs := f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, models.IsTempID(msgs[0].ID))
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Contains(t, msgs[0].ReadBy, "alice")

	// the confirmed echo replaces the shadow, leaving exactly one copy
	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageCreated,
		Message: &models.Message{
			ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hello",
			CreatedAt: time.Now(),
		},
	})

	msgs = f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	f.api.AssertNotCalled(t, "SendMessage")
}

func TestSendFallsBackToREST(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.channel.On("Connected").Return(false)
	f.api.On("SendMessage", mock.Anything, "alice-token", "c1", "hello", mock.Anything).
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hello"}, nil).
		Once()

	require.NoError(t, f.session.Send(context.Background(), "hello"))

	msgs := f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	f.channel.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendFailureRemovesShadow(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.channel.On("Connected").Return(false)
	sendErr := errors.New("503 unavailable")
	f.api.On("SendMessage", mock.Anything, "alice-token", "c1", "hello", mock.Anything).
		Return(models.Message{}, sendErr).
		Once()

	err := f.session.Send(context.Background(), "hello")

	require.ErrorIs(t, err, sendErr)
	assert.Empty(t, f.session.Messages("c1"))
}

func TestSendWithoutActiveConversation(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t)

	require.NoError(t, f.session.Send(context.Background(), "hello"))
	f.api.AssertNotCalled(t, "SendMessage")
}

func TestSendIgnoresBlankText(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	require.NoError(t, f.session.Send(context.Background(), "   "))
	assert.Empty(t, f.session.Messages("c1"))
}

func TestStartDirectWithReusesCachedConversation(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)

	conv, err := f.session.StartDirectWith(context.Background(), "bob")

	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	f.api.AssertNotCalled(t, "CreateDirectConversation")
}

func TestStartDirectWithCreatesWhenMissing(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t)
	f.api.On("CreateDirectConversation", mock.Anything, "alice-token", "bob").
		Return(directWith("c1", "bob"), nil).
		Once()
	f.expectSelect("c1", nil)

	conv, err := f.session.StartDirectWith(context.Background(), "bob")

	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, "c1", f.session.Active())

	// second call finds the cached counterpart, no second create
	conv, err = f.session.StartDirectWith(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	f.api.AssertNumberOfCalls(t, "CreateDirectConversation", 1)
}

func TestTypingDebounce(t *testing.T) {
	f := newSessionFixture(t, 40*time.Millisecond)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	stopped := make(chan struct{}, 2)
	f.channel.On("TypingStart", "c1").Return(nil)
	f.channel.On("TypingStop", "c1").Return(nil).Run(func(mock.Arguments) {
		stopped <- struct{}{}
	})

	for i := 0; i < 5; i++ {
		f.session.Draft("hell")
	}

	f.channel.AssertNumberOfCalls(t, "TypingStart", 1)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("typing_stop not emitted after idle window")
	}
	f.channel.AssertNumberOfCalls(t, "TypingStop", 1)

	// a fresh burst emits a fresh start
	f.session.Draft("again")
	f.channel.AssertNumberOfCalls(t, "TypingStart", 2)
}

func TestDraftClearedStopsTyping(t *testing.T) {
	f := newSessionFixture(t, time.Minute)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.channel.On("TypingStart", "c1").Return(nil).Once()
	f.channel.On("TypingStop", "c1").Return(nil).Once()

	f.session.Draft("h")
	f.session.Draft("")

	f.channel.AssertExpectations(t)
}

func TestSendStopsTypingBurst(t *testing.T) {
	f := newSessionFixture(t, time.Minute)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.channel.On("TypingStart", "c1").Return(nil).Once()
	f.channel.On("TypingStop", "c1").Return(nil).Once()
	f.channel.On("Connected").Return(true)
	f.channel.On("SendMessage", "c1", "hello", mock.Anything).Return(nil).Once()

	f.session.Draft("hello")
	require.NoError(t, f.session.Send(context.Background(), "hello"))

	f.channel.AssertExpectations(t)
}

func TestMarkReadPropagates(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hey", ReadBy: []string{"bob"}},
	})
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.api.On("MarkRead", mock.Anything, "alice-token", "m1").Return(nil).Once()
	f.channel.On("MarkRead", "m1").Return(nil).Once()

	require.NoError(t, f.session.MarkRead(context.Background(), "m1"))

	msgs := f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, msgs[0].ReadBy)
	f.api.AssertExpectations(t)
	f.channel.AssertExpectations(t)
}

func TestMarkReadRESTFailureAborts(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t)

	readErr := errors.New("500")
	f.api.On("MarkRead", mock.Anything, "alice-token", "m1").Return(readErr).Once()

	require.ErrorIs(t, f.session.MarkRead(context.Background(), "m1"), readErr)
	f.channel.AssertNotCalled(t, "MarkRead", "m1")
}

func TestDeleteTombstonesLocally(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "oops"},
	})
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.api.On("DeleteMessage", mock.Anything, "alice-token", "m1").Return(nil).Once()
	f.channel.On("DeleteMessage", "m1").Return(nil).Once()

	require.NoError(t, f.session.Delete(context.Background(), "m1"))

	msgs := f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Equal(t, models.DeletedPlaceholder, msgs[0].DisplayContent())
}

func TestInboundMessageBumpsUnreadWhenInactive(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"), directWith("c2", "carol"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageCreated,
		Message: &models.Message{
			ID: "m1", ConversationID: "c2", SenderID: "carol", Content: "ping",
			CreatedAt: time.Now(),
		},
	})

	views := f.session.Conversations()
	require.Len(t, views, 2)
	assert.Equal(t, "c2", views[0].ID)
	assert.Equal(t, 1, views[0].Unread)
	assert.Equal(t, "ping", views[0].LastMessagePreview)

	// opening the conversation clears the counter
	f.expectSelect("c2", nil)
	f.channel.On("Leave", "c1").Return(nil)
	require.NoError(t, f.session.Select(context.Background(), "c2"))
	assert.Equal(t, 0, f.session.Conversations()[0].Unread)
}

func TestInboundMessageUnknownConversationCatchUp(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t)
	f.api.On("GetConversation", mock.Anything, "alice-token", "c9").
		Return(directWith("c9", "dave"), nil).
		Once()

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageCreated,
		Message: &models.Message{
			ID: "m1", ConversationID: "c9", SenderID: "dave", Content: "hi there",
			CreatedAt: time.Now(),
		},
	})

	views := f.session.Conversations()
	require.Len(t, views, 1)
	assert.Equal(t, "c9", views[0].ID)
	assert.Equal(t, "dave", views[0].CounterpartID)
	assert.Equal(t, 1, views[0].Unread)
	f.api.AssertExpectations(t)
}

func TestInboundTypingEvents(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStarted, ConversationID: "c1", UserID: "bob",
	})
	assert.Equal(t, []string{"bob"}, f.session.TypingUsers("c1"))

	// own typing echo is ignored
	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStarted, ConversationID: "c1", UserID: "alice",
	})
	assert.Equal(t, []string{"bob"}, f.session.TypingUsers("c1"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStopped, ConversationID: "c1", UserID: "bob",
	})
	assert.Empty(t, f.session.TypingUsers("c1"))
}

func TestInboundMessageClearsSenderTyping(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"), directWith("c2", "carol"))
	f.expectSelect("c1", nil)
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStarted, ConversationID: "c1", UserID: "bob",
	})
	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageCreated,
		Message: &models.Message{
			ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "done typing",
			CreatedAt: time.Now(),
		},
	})

	assert.Empty(t, f.session.TypingUsers("c1"))
	// the conversation is active, so no unread bump
	assert.Equal(t, 0, f.session.Conversations()[0].Unread)
}

func TestInboundReadAndDeleteEvents(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))
	f.expectSelect("c1", []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hey", ReadBy: []string{"alice"}},
	})
	require.NoError(t, f.session.Select(context.Background(), "c1"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageRead, MessageID: "m1", UserID: "bob",
	})
	msgs := f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].HasReader("bob"))

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventMessageDeleted, MessageID: "m1",
	})
	msgs = f.session.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestListenerObservesAppliedEvents(t *testing.T) {
	f := newSessionFixture(t, 0)
	f.start(t, directWith("c1", "bob"))

	var seen []string
	f.session.SetListener(func(ev models.ChannelEvent) { seen = append(seen, ev.Type) })

	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStarted, ConversationID: "c1", UserID: "bob",
	})
	f.session.HandleChannelEvent(models.ChannelEvent{
		Type: models.EventTypingStopped, ConversationID: "c1", UserID: "bob",
	})

	assert.Equal(t, []string{models.EventTypingStarted, models.EventTypingStopped}, seen)
}
