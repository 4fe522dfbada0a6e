// Package client talks to the answers HTTP API. It is the feedback persister and the
// citation content fetcher used by terminal views.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/api"
	"gwi.com/cited-answers/internal/resolver"
	"gwi.com/cited-answers/internal/store"
)

const defaultTimeout = 60 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return fmt.Sprintf("HTTP error! status: %d (%s)", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateFeedback implements feedback.Persister.
func (c *Client) UpdateFeedback(ctx context.Context, messageID, value string) error {
	req := api.FeedbackRequest{MessageID: messageID, MessageFeedback: value}
	return c.do(ctx, http.MethodPost, "/api/history/message_feedback", req, nil)
}

// FetchContent implements resolver.Fetcher.
func (c *Client) FetchContent(ctx context.Context, contentURL, title string) (resolver.Content, error) {
	var out resolver.Content
	req := api.CitationContentRequest{URL: contentURL, Title: title}
	if err := c.do(ctx, http.MethodPost, "/api/fetch-citation-content", req, &out); err != nil {
		return resolver.Content{}, err
	}
	return out, nil
}

func (c *Client) FrontendSettings(ctx context.Context) (api.FrontendSettings, error) {
	var out api.FrontendSettings
	err := c.do(ctx, http.MethodGet, "/api/frontend_settings", nil, &out)
	return out, err
}

// ListConversations returns one page of conversations starting at offset.
func (c *Client) ListConversations(ctx context.Context, offset int) ([]store.Conversation, error) {
	var out []store.Conversation
	path := "/api/history/list?" + url.Values{"offset": {strconv.Itoa(offset)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReadConversation(ctx context.Context, conversationID string) (*api.ConversationResponse, error) {
	var out api.ConversationResponse
	if err := c.do(ctx, http.MethodPost, "/api/history/read", api.ConversationIDRequest{ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask sends a message; an empty conversationID starts a new conversation.
func (c *Client) Ask(ctx context.Context, conversationID, content string) (*api.ConversationResponse, error) {
	path := "/api/conversation"
	if conversationID == "" {
		path = "/api/history/generate"
	}
	var out api.ConversationResponse
	if err := c.do(ctx, http.MethodPost, path, api.AskRequest{ConversationID: conversationID, Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameConversation(ctx context.Context, conversationID, title string) error {
	return c.do(ctx, http.MethodPost, "/api/history/rename", api.RenameRequest{ConversationID: conversationID, Title: title}, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/history/delete", api.ConversationIDRequest{ConversationID: conversationID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		c.logger.Debug("Request failed", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &StatusError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", path, err)
	}
	return nil
}
