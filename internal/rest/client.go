package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// ErrUnauthorized marks an expired or missing credential. It is surfaced to
// the caller unmodified; the client never retries or refreshes.
var ErrUnauthorized = errors.New("unauthorized")

// APIError carries a non-2xx response from the collaborator.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

// Client talks to the conversation/message/user directory endpoints. The
// bearer credential is passed per call, not stored on the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client for the collaborator at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// ListUsers fetches the directory of addressable users.
func (c *Client) ListUsers(ctx context.Context, token string) ([]models.User, error) {
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, token, "list_users", http.MethodGet, "/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ListMyConversations fetches the conversations the credential's user
// participates in.
func (c *Client) ListMyConversations(ctx context.Context, token string) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, token, "list_conversations", http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// CreateDirectConversation creates (or re-yields, server-side) the direct
// conversation with otherUserID.
func (c *Client) CreateDirectConversation(ctx context.Context, token, otherUserID string) (models.Conversation, error) {
	body := map[string]string{
		"user_id": otherUserID,
		"type":    string(models.ConversationDirect),
	}
	var conv models.Conversation
	if err := c.do(ctx, token, "create_conversation", http.MethodPost, "/conversations", body, &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (c *Client) GetConversation(ctx context.Context, token, id string) (models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, token, "get_conversation", http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListMessages fetches a conversation's history in chronological order.
func (c *Client) ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, token, "list_messages", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a message over REST. This is the durable fallback for the
// realtime send intent.
func (c *Client) SendMessage(ctx context.Context, token, conversationID, content string, attachments []models.Attachment) (models.Message, error) {
	body := map[string]interface{}{
		"content":     content,
		"attachments": attachments,
	}
	var msg models.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, token, "send_message", http.MethodPost, path, body, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead posts a read receipt for messageID. Idempotent server-side.
func (c *Client) MarkRead(ctx context.Context, token, messageID string) error {
	return c.do(ctx, token, "mark_read", http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// DeleteMessage soft-deletes messageID. Idempotent server-side.
func (c *Client) DeleteMessage(ctx context.Context, token, messageID string) error {
	return c.do(ctx, token, "delete_message", http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) do(ctx context.Context, token, operation, method, path string, body, out interface{}) error {
	ctx, span := otel.Tracer("chat-client/rest").Start(ctx, "rest."+operation)
	defer span.End()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.ObserveRESTRequest(operation, "error", time.Since(start).Seconds())
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()
	observability.ObserveRESTRequest(operation, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%s: %w: %s", operation, ErrUnauthorized, errBody.Error)
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}
