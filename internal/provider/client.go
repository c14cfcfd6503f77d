package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"pombo/internal/config"
	"pombo/internal/model"
)

// APIError is a non-2xx response from the provider API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the provider's request/response API: sending messages,
// acknowledging reads and fetching conversation/message history.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a provider API client from config.
func NewClient(cfg config.Provider, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{},
		logger:  logger,
	}
}

// SendResult is the provider's acknowledgement of an accepted send.
type SendResult struct {
	ProviderMessageID string              `json:"provider_message_id"`
	Status            model.MessageStatus `json:"status"`
}

type sendRequest struct {
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content"`
	Type           model.MessageType `json:"type"`
}

// SendMessage submits an outbound message. The context carries the send
// timeout; expiry surfaces as an error and the message is treated as
// failed by the caller.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, mtype model.MessageType) (*SendResult, error) {
	var res SendResult
	err := c.post(ctx, "/v1/messages", sendRequest{
		ConversationID: conversationID,
		Content:        content,
		Type:           mtype,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if res.Status == "" {
		res.Status = model.StatusSent
	}
	return &res, nil
}

type markReadRequest struct {
	ProviderMessageIDs []string `json:"provider_message_ids"`
}

// MarkRead acknowledges the given provider message ids as read upstream.
// The call is idempotent on the provider side.
func (c *Client) MarkRead(ctx context.Context, conversationID string, providerMessageIDs []string) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.post(ctx, path, markReadRequest{ProviderMessageIDs: providerMessageIDs}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// FetchConversations retrieves a page of the conversation list.
func (c *Client) FetchConversations(ctx context.Context, page, limit int) ([]model.Conversation, error) {
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := c.get(ctx, "/v1/conversations", page, limit, &out); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	return out.Conversations, nil
}

// FetchMessages retrieves a page of a conversation's message history,
// newest page first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, page, limit, &out); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, page, limit int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
