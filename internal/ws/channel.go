package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// ErrNotConnected is returned by intents while the channel is down.
var ErrNotConnected = errors.New("channel not connected")

// EventHandler receives validated inbound events from the read pump.
type EventHandler interface {
	HandleChannelEvent(ev models.ChannelEvent)
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ev models.ChannelEvent)

func (f EventHandlerFunc) HandleChannelEvent(ev models.ChannelEvent) { f(ev) }

// Channel owns the single realtime connection of a session. It is the only
// component allowed to write to the transport. Room membership does not
// survive a reconnect, so the active room is re-joined after every dial.
type Channel struct {
	wsURL   string
	handler EventHandler
	dialer  *websocket.Dialer

	backoffBase time.Duration
	backoffMax  time.Duration
	maxRetries  int

	mu         sync.Mutex
	conn       *websocket.Conn
	info       ConnInfo
	token      string
	active     string
	closed     bool
	generation int
}

// NewChannel builds a disconnected Channel that dispatches to handler.
func NewChannel(wsURL string, handler EventHandler) *Channel {
	return &Channel{
		wsURL:       wsURL,
		handler:     handler,
		dialer:      websocket.DefaultDialer,
		backoffBase: time.Second,
		backoffMax:  30 * time.Second,
		maxRetries:  0, // retry until Disconnect
	}
}

// Connect dials the channel with the session credential and starts the read
// pump. The credential is kept only for re-dialing on reconnect.
func (c *Channel) Connect(ctx context.Context, token string) error {
	ctx, span := otel.Tracer("chat-client/ws").Start(ctx, "ws.connect")
	defer span.End()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("channel already connected")
	}
	c.token = token
	c.closed = false
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)
	if err != nil {
		return err
	}

	c.attach(conn, "ws_connect")
	return nil
}

// Disconnect tears the channel down and stops any reconnect attempts.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	observability.SetWSConnected(false)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Connected reports whether the transport is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetActive records the conversation whose room must be re-joined after a
// reconnect. An empty id clears it.
func (c *Channel) SetActive(conversationID string) {
	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
}

// Join subscribes the connection to a conversation's room.
func (c *Channel) Join(conversationID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentJoinRoom, ConversationID: conversationID})
}

// Leave unsubscribes the connection from a conversation's room.
func (c *Channel) Leave(conversationID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentLeaveRoom, ConversationID: conversationID})
}

// SendMessage emits a live send intent. Fire and forget: confirmation comes
// back as a message_created event.
func (c *Channel) SendMessage(conversationID, content string, attachments []models.Attachment) error {
	return c.writeIntent(models.ChannelIntent{
		Type:           models.IntentSendMessage,
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
	})
}

// TypingStart emits a typing hint. No fallback exists; callers drop the
// error while disconnected.
func (c *Channel) TypingStart(conversationID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentTypingStart, ConversationID: conversationID})
}

// TypingStop emits the end-of-typing hint.
func (c *Channel) TypingStop(conversationID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentTypingStop, ConversationID: conversationID})
}

// MarkRead mirrors a read receipt on the live channel.
func (c *Channel) MarkRead(messageID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentMarkRead, MessageID: messageID})
}

// DeleteMessage mirrors a message deletion on the live channel.
func (c *Channel) DeleteMessage(messageID string) error {
	return c.writeIntent(models.ChannelIntent{Type: models.IntentDeleteMessage, MessageID: messageID})
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// attach installs a freshly dialed connection, re-joins the active room and
// starts the read pump.
func (c *Channel) attach(conn *websocket.Conn, event string) {
	info := ConnInfo{ConnID: newConnID(), ConnectedAt: time.Now()}

	c.mu.Lock()
	c.conn = conn
	c.info = info
	c.generation++
	generation := c.generation
	active := c.active
	c.mu.Unlock()

	observability.SetWSConnected(true)
	observability.IncWSEvent("lifecycle", event)
	c.publishLifecycle(event, info, "")

	if active != "" {
		if err := c.Join(active); err != nil {
			log.Printf("rejoin room failed conversation=%s: %v", active, err)
		}
	}

	go c.readPump(conn, info, generation)
}

func (c *Channel) readPump(conn *websocket.Conn, info ConnInfo, generation int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, info, generation, err)
			return
		}

		ev, decodeErr := models.DecodeEvent(payload)
		if decodeErr != nil {
			log.Printf("dropping channel frame: %v", decodeErr)
			observability.IncWSEvent("in", "invalid")
			continue
		}
		observability.IncWSEvent("in", ev.Type)

		if ev.Type == models.EventError {
			log.Printf("channel error event: %s", ev.Reason)
			continue
		}
		c.handler.HandleChannelEvent(ev)
	}
}

func (c *Channel) handleReadError(conn *websocket.Conn, info ConnInfo, generation int, err error) {
	_ = conn.Close()

	c.mu.Lock()
	// A stale pump (superseded by a reconnect) must not tear down the
	// current connection.
	if c.generation != generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	observability.SetWSConnected(false)
	observability.IncWSEvent("lifecycle", "ws_disconnect")
	c.publishLifecycle("ws_disconnect", info, err.Error())

	if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}

	log.Printf("channel read error, reconnecting: %v", err)
	go c.reconnect()
}

func (c *Channel) reconnect() {
	delay := c.backoffBase
	for attempt := 1; ; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.mu.Unlock()
			return
		}
		token := c.token
		c.mu.Unlock()

		conn, err := c.dial(context.Background(), token)
		if err == nil {
			observability.IncWSReconnect()
			c.attach(conn, "ws_reconnect")
			return
		}
		log.Printf("channel reconnect attempt=%d failed: %v", attempt, err)

		if c.maxRetries > 0 && attempt >= c.maxRetries {
			log.Printf("channel reconnect giving up after %d attempts", attempt)
			return
		}
		if delay *= 2; delay > c.backoffMax {
			delay = c.backoffMax
		}
	}
}

func (c *Channel) writeIntent(intent models.ChannelIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(intent); err != nil {
		observability.IncWSEvent("out", "write_error")
		return err
	}
	observability.IncWSEvent("out", intent.Type)
	return nil
}

func (c *Channel) publishLifecycle(event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
	}
	if err := observability.PublishEvent(context.Background(), "ws_events.client", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.ConnID, "")); err != nil {
		log.Printf("lifecycle publish failed event=%s: %v", event, err)
	}
}
