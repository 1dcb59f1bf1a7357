package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type chatTemplates struct {
	Embedded struct {
		ChatTemplates []struct {
			ID         int64  `json:"id"`
			ExternalID string `json:"external_id"`
			Name       string `json:"name"`
		} `json:"chat_templates"`
	} `json:"_embedded"`
}

// TemplateExists reports whether a chat template with the external id is
// already mirrored CRM-side.
func (c *Client) TemplateExists(ctx context.Context, externalID string) (bool, error) {
	path := "/api/v4/chats/templates?filter[external_id]=" + url.QueryEscape(externalID)
	body, err := c.v4(ctx, "amocrm.find_template", http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	if len(body) == 0 {
		// 204 with empty body means no templates at all
		return false, nil
	}

	var resp chatTemplates
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("parse templates response: %w", err)
	}
	return len(resp.Embedded.ChatTemplates) > 0, nil
}

// CreateTemplate mirrors one provider template into the CRM, returning the
// CRM-side template id.
func (c *Client) CreateTemplate(ctx context.Context, externalID, name, content string) (int64, error) {
	payload := []map[string]any{{
		"external_id": externalID,
		"name":        name,
		"content":     content,
		"is_editable": false,
	}}

	body, err := c.v4(ctx, "amocrm.create_template", http.MethodPost, "/api/v4/chats/templates", payload)
	if err != nil {
		return 0, err
	}

	var resp chatTemplates
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse create template response: %w", err)
	}
	if len(resp.Embedded.ChatTemplates) == 0 {
		return 0, fmt.Errorf("create template: empty response")
	}
	return resp.Embedded.ChatTemplates[0].ID, nil
}
