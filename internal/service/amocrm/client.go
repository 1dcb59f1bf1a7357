// Package amocrm talks to both amoCRM surfaces: the bearer-token v4 REST API
// (contacts, leads, chat templates) and the HMAC-signed chat origin API.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/config"
	"wabridge/internal/lib/signature"
	"wabridge/internal/lib/sl"
	"wabridge/internal/remote"
)

const requestTimeout = 10 * time.Second

type Client struct {
	token         string
	baseURL       string
	chatBaseURL   string
	chatSecret    string
	channelID     string
	accountID     string
	scopeID       string
	senderAmojoID string
	http          *http.Client
	log           *slog.Logger
}

func NewClient(conf *config.Config, logger *slog.Logger) *Client {
	return &Client{
		token:         conf.Amo.Token,
		baseURL:       conf.Amo.BaseURL,
		chatBaseURL:   conf.Chat.BaseURL,
		chatSecret:    conf.Chat.Secret,
		channelID:     conf.Chat.ChannelID,
		accountID:     conf.Chat.AccountID,
		scopeID:       conf.ChatScopeID(),
		senderAmojoID: conf.Chat.SenderAmojoID,
		http:          &http.Client{Timeout: requestTimeout},
		log:           logger.With(sl.Module("amocrm.client")),
	}
}

// ChatSecret exposes the channel secret for inbound webhook verification.
func (c *Client) ChatSecret() string { return c.chatSecret }

// postChat sends a signed request to the chat origin API. The body is
// serialized to compact JSON before checksumming; any whitespace difference
// between the signed and the transmitted bytes invalidates the signature.
func (c *Client) postChat(ctx context.Context, op, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat body: %w", err)
	}

	headers := signature.Sign(http.MethodPost, path, body, c.chatSecret, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Date", headers.Date)
	req.Header.Set("Content-Type", headers.ContentType)
	req.Header.Set("Content-MD5", headers.ContentMD5)
	req.Header.Set("X-Signature", headers.Signature)

	return c.do(op, req)
}

// v4 sends a bearer-authenticated request to the REST API.
func (c *Client) v4(ctx context.Context, op, method, path string, payload any) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.With(sl.Err(err)).Error("amocrm request", slog.String("op", op))
		return nil, remote.FromTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.FromTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.With(
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		).Error("amocrm non-2xx")
		return nil, remote.FromStatus(op, resp.StatusCode)
	}

	return body, nil
}

// ConnectChannel registers the custom channel with the account. Called once
// at startup so the channel is live before the first relay.
func (c *Client) ConnectChannel(ctx context.Context) error {
	path := fmt.Sprintf("/v2/origin/custom/%s/connect", c.channelID)
	_, err := c.postChat(ctx, "amocrm.connect_channel", path, map[string]any{
		"account_id":       c.accountID,
		"hook_api_version": "v2",
		"title":            "WhatsApp Bridge",
	})
	return err
}
