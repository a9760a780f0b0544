package chattest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func wsDial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChannelEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.ChannelEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWSRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(NewServer().Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	require.Nil(t, conn)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSJoinRequiresParticipation(t *testing.T) {
	backend := NewServer()
	backend.AddUser(models.User{ID: "alice"}, "alice-token")
	backend.AddUser(models.User{ID: "bob"}, "bob-token")
	backend.AddUser(models.User{ID: "carol"}, "carol-token")
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	// bob and carol own the conversation
	req := httptest.NewRequest(http.MethodPost, "/conversations", strings.NewReader(`{"user_id": "carol"}`))
	req.Header.Set("Authorization", "Bearer bob-token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	backend.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	conn := wsDial(t, srv, "alice-token")
	require.NoError(t, conn.WriteJSON(models.ChannelIntent{Type: models.IntentJoinRoom, ConversationID: "c1"}))

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, "not a participant", ev.Reason)
}

func TestWSUnknownIntent(t *testing.T) {
	backend := NewServer()
	backend.AddUser(models.User{ID: "alice"}, "alice-token")
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	conn := wsDial(t, srv, "alice-token")
	require.NoError(t, conn.WriteJSON(models.ChannelIntent{Type: "warp_drive"}))

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Contains(t, ev.Reason, "warp_drive")
}
