package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/session"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrNetwork   = errors.New("network error")
)

// Page is one slice of a conversation's message history. NextCursor is empty
// when no older messages remain.
type Page struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// API abstracts the chat backend's REST surface.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversationPage(ctx context.Context, conversationID, cursor string, pageSize int) (Page, error)
	SendMessage(ctx context.Context, conversationID, content, clientTempID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
	CreateConversation(ctx context.Context, targetParticipant int) (models.Conversation, error)
}

// Client is the net/http implementation of API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     session.TokenSupplier
}

// NewClient constructs a Client against baseURL.
func NewClient(baseURL string, tokens session.TokenSupplier) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
	}
}

// ListConversations returns the conversations visible to the session user.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetConversationPage fetches one page of history. cursor is the id of the
// oldest already-loaded message; empty means the newest page.
func (c *Client) GetConversationPage(ctx context.Context, conversationID, cursor string, pageSize int) (Page, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

// SendMessage persists a message server-side and returns the confirmed copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, clientTempID string) (models.Message, error) {
	body := map[string]string{
		"content":        content,
		"client_temp_id": clientTempID,
	}
	var msg models.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead records the session user's read position in a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) error {
	body := map[string]string{"message_id": messageID}
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// CreateConversation starts (or returns the existing) direct conversation with
// another participant.
func (c *Client) CreateConversation(ctx context.Context, targetParticipant int) (models.Conversation, error) {
	body := map[string]int{"participant_id": targetParticipant}
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, method+" "+path)
	defer span.End()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return session.ErrAuthExpired
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ API = (*Client)(nil)
