// Package chatclient implements the client half of the polling messaging
// protocol: incremental fetches, optimistic sends and per-conversation
// unread bookkeeping on top of the stateless REST transport.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/toolshare/toolshare/api"
)

// ErrUnauthorized is returned when the server rejects the credential, for
// example because the token expired.
var ErrUnauthorized = errors.New("unauthorized")

// Client is a thin HTTP wrapper over the messaging endpoints. The token is
// held explicitly rather than read from ambient storage on every call.
type Client struct {
	BaseURL string
	Token   string

	// HTTP is the underlying client; nil means http.DefaultClient.
	HTTP *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if res.StatusCode >= 400 {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SendMessage posts a new message and returns the persisted row.
func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, text string) (api.Message, error) {
	req := map[string]string{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"text":            text,
	}
	var res struct {
		Data api.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/messages", req, &res); err != nil {
		return api.Message{}, err
	}
	return res.Data, nil
}

// ListMessages fetches a conversation's messages, optionally only those
// newer than since. The server widens the window by its skew buffer, so the
// result may include one already-seen message; callers deduplicate by id.
func (c *Client) ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]api.Message, error) {
	path := "/message/conversations/" + conversationID + "/messages"
	sep := "?"
	if !since.IsZero() {
		path += sep + "since=" + since.UTC().Format(time.RFC3339Nano)
		sep = "&"
	}
	if limit > 0 {
		path += sep + "limit=" + strconv.Itoa(limit)
	}

	var res struct {
		Messages []api.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// ListConversations fetches the caller's conversation list, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	var res struct {
		Conversations []api.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/message/conversations", nil, &res); err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

// CreateConversation opens (or idempotently returns) a thread with another
// user, optionally about a listing.
func (c *Client) CreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (api.Conversation, error) {
	req := map[string]string{
		"listing_id": listingID,
		"buyer_id":   buyerID,
		"seller_id":  sellerID,
	}
	var res struct {
		Conversation api.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/conversations", req, &res); err != nil {
		return api.Conversation{}, err
	}
	return res.Conversation, nil
}

// MarkConversationRead persists the caller's read marker for a thread.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/message/conversations/"+conversationID+"/read", nil, nil)
}

// UnreadCount fetches the caller's global unread message count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var res struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodGet, "/message/unread-count", nil, &res); err != nil {
		return 0, err
	}
	return res.UnreadCount, nil
}
