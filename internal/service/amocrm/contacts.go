package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type embeddedContacts struct {
	Embedded struct {
		Contacts []struct {
			ID                int64 `json:"id"`
			CustomFieldValues []struct {
				FieldCode string `json:"field_code"`
				Values    []struct {
					Value string `json:"value"`
				} `json:"values"`
			} `json:"custom_fields_values"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

// FindContactByPhone looks a contact up by phone, returning 0 when none
// matches.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (int64, error) {
	path := "/api/v4/contacts?query=" + url.QueryEscape(phone)
	body, err := c.v4(ctx, "amocrm.find_contact", http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var resp embeddedContacts
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse contacts response: %w", err)
	}
	if len(resp.Embedded.Contacts) == 0 {
		return 0, nil
	}
	return resp.Embedded.Contacts[0].ID, nil
}

// CreateOrGetContact returns the contact id for the phone, creating the
// contact when the search comes up empty.
func (c *Client) CreateOrGetContact(ctx context.Context, phone string) (int64, error) {
	id, err := c.FindContactByPhone(ctx, phone)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	payload := []map[string]any{{
		"name": phone,
		"custom_fields_values": []map[string]any{{
			"field_code": "PHONE",
			"values":     []map[string]string{{"value": phone, "enum_code": "WORK"}},
		}},
	}}

	body, err := c.v4(ctx, "amocrm.create_contact", http.MethodPost, "/api/v4/contacts", payload)
	if err != nil {
		return 0, err
	}

	var resp embeddedContacts
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse create contact response: %w", err)
	}
	if len(resp.Embedded.Contacts) == 0 {
		return 0, fmt.Errorf("create contact: empty response")
	}
	return resp.Embedded.Contacts[0].ID, nil
}

// CreateLead opens a lead attached to the contact.
func (c *Client) CreateLead(ctx context.Context, contactID int64, source string) (int64, error) {
	payload := []map[string]any{{
		"name": fmt.Sprintf("Request from %s", source),
		"_embedded": map[string]any{
			"contacts": []map[string]int64{{"id": contactID}},
		},
	}}

	body, err := c.v4(ctx, "amocrm.create_lead", http.MethodPost, "/api/v4/leads/complex", payload)
	if err != nil {
		return 0, err
	}

	var resp []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse create lead response: %w", err)
	}
	if len(resp) == 0 {
		return 0, fmt.Errorf("create lead: empty response")
	}
	return resp[0].ID, nil
}

// ContactPhoneByLead resolves the phone of the contact attached to a lead,
// used by the note webhook to address the outbound send.
func (c *Client) ContactPhoneByLead(ctx context.Context, leadID int64) (string, error) {
	path := fmt.Sprintf("/api/v4/leads/%d?with=contacts", leadID)
	body, err := c.v4(ctx, "amocrm.lead_contacts", http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var lead embeddedContacts
	if err := json.Unmarshal(body, &lead); err != nil {
		return "", fmt.Errorf("parse lead response: %w", err)
	}
	if len(lead.Embedded.Contacts) == 0 {
		return "", fmt.Errorf("lead %d has no contacts", leadID)
	}

	contactPath := fmt.Sprintf("/api/v4/contacts/%d", lead.Embedded.Contacts[0].ID)
	body, err = c.v4(ctx, "amocrm.get_contact", http.MethodGet, contactPath, nil)
	if err != nil {
		return "", err
	}

	var contact struct {
		CustomFieldValues []struct {
			FieldCode string `json:"field_code"`
			Values    []struct {
				Value string `json:"value"`
			} `json:"values"`
		} `json:"custom_fields_values"`
	}
	if err := json.Unmarshal(body, &contact); err != nil {
		return "", fmt.Errorf("parse contact response: %w", err)
	}

	for _, field := range contact.CustomFieldValues {
		if field.FieldCode == "PHONE" && len(field.Values) > 0 {
			return field.Values[0].Value, nil
		}
	}
	return "", fmt.Errorf("contact of lead %d has no phone", leadID)
}
