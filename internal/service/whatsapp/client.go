// Package whatsapp is the Cloud API client: text and template sends plus the
// account-management proxies (numbers, templates).
package whatsapp

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
	"wabridge/internal/lib/sl"
	"wabridge/internal/remote"
)

const requestTimeout = 10 * time.Second

type Client struct {
	token         string
	phoneNumberID string
	accountID     string
	businessID    string
	baseURL       string
	http          *http.Client
	log           *slog.Logger
}

func NewClient(conf *config.Config, logger *slog.Logger) *Client {
	return &Client{
		token:         conf.Meta.Token,
		phoneNumberID: conf.Meta.PhoneNumberID,
		accountID:     conf.Meta.AccountID,
		businessID:    conf.Meta.BusinessID,
		baseURL:       conf.Meta.BaseURL,
		http:          &http.Client{Timeout: requestTimeout},
		log:           logger.With(sl.Module("whatsapp.client")),
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type templatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
	} `json:"template"`
}

// SendText posts a free-form text message to the customer.
func (c *Client) SendText(ctx context.Context, waID, text string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               waID,
		Type:             "text",
	}
	payload.Text.Body = text

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	_, err := c.post(ctx, "whatsapp.send_text", url, payload)
	return err
}

// SendTemplate posts a pre-approved templated message.
func (c *Client) SendTemplate(ctx context.Context, waID, name, language string) error {
	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               waID,
		Type:             "template",
	}
	payload.Template.Name = name
	payload.Template.Language.Code = language

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	_, err := c.post(ctx, "whatsapp.send_template", url, payload)
	return err
}

// TemplateInfo is one approved template as reported by the Graph API.
type TemplateInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Category string `json:"category"`
	Content  string `json:"content,omitempty"`
}

// ListTemplates returns the approved message templates of the account.
func (c *Client) ListTemplates(ctx context.Context) ([]TemplateInfo, error) {
	url := fmt.Sprintf("%s/%s/message_templates", c.baseURL, c.accountID)
	body, err := c.get(ctx, "whatsapp.list_templates", url)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Language   string `json:"language"`
			Category   string `json:"category"`
			Components []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"components"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse templates response: %w", err)
	}

	templates := make([]TemplateInfo, 0, len(resp.Data))
	for _, item := range resp.Data {
		info := TemplateInfo{
			ID:       item.ID,
			Name:     item.Name,
			Language: item.Language,
			Category: item.Category,
		}
		for _, comp := range item.Components {
			if comp.Type == "BODY" {
				info.Content = comp.Text
			}
		}
		templates = append(templates, info)
	}
	return templates, nil
}

// ListPhoneNumbers returns the raw phone number listing of the business
// account, resolving the WABA id through the business id first.
func (c *Client) ListPhoneNumbers(ctx context.Context) (json.RawMessage, error) {
	wabaURL := fmt.Sprintf("%s/%s/owned_whatsapp_business_accounts", c.baseURL, c.businessID)
	body, err := c.get(ctx, "whatsapp.list_wabas", wabaURL)
	if err != nil {
		return nil, err
	}

	var wabas struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wabas); err != nil {
		return nil, fmt.Errorf("parse waba response: %w", err)
	}
	if len(wabas.Data) == 0 {
		return nil, fmt.Errorf("no whatsapp business accounts found")
	}

	numbersURL := fmt.Sprintf("%s/%s/phone_numbers", c.baseURL, wabas.Data[0].ID)
	return c.get(ctx, "whatsapp.list_numbers", numbersURL)
}

// RegisterNumber adds a phone number to the business account. The response
// carries the id of the new number.
func (c *Client) RegisterNumber(ctx context.Context, cc, phoneNumber, displayName, verifiedName string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s/phone_numbers", c.baseURL, c.accountID)
	return c.post(ctx, "whatsapp.register_number", url, map[string]string{
		"cc":            cc,
		"phone_number":  phoneNumber,
		"display_name":  displayName,
		"verified_name": verifiedName,
	})
}

// ConfirmNumber verifies a registered number with the SMS code.
func (c *Client) ConfirmNumber(ctx context.Context, phoneNumberID, code string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s/verify", c.baseURL, phoneNumberID)
	return c.post(ctx, "whatsapp.confirm_number", url, map[string]string{"code": code})
}

func (c *Client) post(ctx context.Context, op, url string, payload any) (json.RawMessage, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(op, req)
}

func (c *Client) get(ctx context.Context, op, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.With(sl.Err(err)).Error("graph api request", slog.String("op", op))
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
		).Error("graph api non-2xx")
		return nil, remote.FromStatus(op, resp.StatusCode)
	}

	return body, nil
}
