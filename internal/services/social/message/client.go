package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks JSON over HTTP to the message service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient builds a message service client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("message client is not configured")
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call message service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("message service %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// SendMessage delivers one notification.
func (c *Client) SendMessage(ctx context.Context, m Message) error {
	return c.post(ctx, "/send_message", map[string]any{
		"gamespace":       m.GamespaceID,
		"sender":          m.Sender,
		"recipient_class": m.RecipientClass,
		"recipient_key":   m.RecipientKey,
		"message_type":    m.Type,
		"payload":         json.RawMessage(normalizePayload(m.Payload)),
		"flags":           m.Flags,
		"authoritative":   m.Authoritative,
	})
}

// CreateGroup registers a message group for a newly created social group.
func (c *Client) CreateGroup(ctx context.Context, group GroupRef, joinAccount int64, role string) error {
	return c.post(ctx, "/create_group", map[string]any{
		"gamespace":    group.GamespaceID,
		"group_class":  group.Class,
		"group_key":    group.Key,
		"join_account": joinAccount,
		"role":         role,
	})
}

// JoinGroup adds an account to the message group.
func (c *Client) JoinGroup(ctx context.Context, group GroupRef, account int64, role string, notify json.RawMessage) error {
	return c.post(ctx, "/join_group", map[string]any{
		"gamespace":   group.GamespaceID,
		"group_class": group.Class,
		"group_key":   group.Key,
		"account_id":  account,
		"role":        role,
		"notify":      json.RawMessage(normalizePayload(notify)),
	})
}

// LeaveGroup removes an account from the message group.
func (c *Client) LeaveGroup(ctx context.Context, group GroupRef, account int64, notify json.RawMessage) error {
	return c.post(ctx, "/leave_group", map[string]any{
		"gamespace":   group.GamespaceID,
		"group_class": group.Class,
		"group_key":   group.Key,
		"account_id":  account,
		"notify":      json.RawMessage(normalizePayload(notify)),
	})
}

func normalizePayload(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	return payload
}
