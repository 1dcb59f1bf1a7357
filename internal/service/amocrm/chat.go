package amocrm

import (
	"context"
	"fmt"
)

// CreateChat opens a chat thread for the (customer, operator) pair. The
// conversation id is the pair-scoped key "whatsapp:{customer}:{operator}",
// so a customer handed to a new operator gets a fresh thread while the old
// one stays resolvable.
func (c *Client) CreateChat(ctx context.Context, customerPhone, operatorPhone string) (string, error) {
	path := fmt.Sprintf("/v2/origin/custom/%s/chats", c.scopeID)
	conversationID := fmt.Sprintf("whatsapp:%s:%s", customerPhone, operatorPhone)
	userID := fmt.Sprintf("%s:%s", customerPhone, operatorPhone)

	payload := map[string]any{
		"conversation_id": conversationID,
		"title":           fmt.Sprintf("Chat %s — operator %s", customerPhone, operatorPhone),
		"user": map[string]any{
			"id":      userID,
			"name":    userID,
			"profile": map[string]string{"phone": customerPhone},
		},
	}

	if _, err := c.postChat(ctx, "amocrm.create_chat", path, payload); err != nil {
		return "", err
	}
	return conversationID, nil
}

// SendClientMessage posts an inbound customer message into the chat thread
// as a new_message event.
func (c *Client) SendClientMessage(ctx context.Context, conversationID, customerPhone, operatorPhone, text string, timestamp int64) error {
	path := fmt.Sprintf("/v2/origin/custom/%s", c.scopeID)
	senderID := fmt.Sprintf("%s:%s", customerPhone, operatorPhone)

	payload := map[string]any{
		"event_type": "new_message",
		"payload": map[string]any{
			"timestamp":       timestamp,
			"msec_timestamp":  timestamp * 1000,
			"msgid":           fmt.Sprintf("client_%s_%d", customerPhone, timestamp),
			"conversation_id": conversationID,
			"silent":          false,
			"sender": map[string]any{
				"id":      senderID,
				"name":    conversationID,
				"profile": map[string]string{"phone": customerPhone},
			},
			"message": map[string]string{
				"type": "text",
				"text": text,
			},
		},
	}

	_, err := c.postChat(ctx, "amocrm.send_client_message", path, payload)
	return err
}

// SendManagerMessage posts an operator message into the chat thread,
// addressed to the customer as receiver.
func (c *Client) SendManagerMessage(ctx context.Context, conversationID, messageID, customerID, customerName, text string, timestamp int64) error {
	path := fmt.Sprintf("/v2/origin/custom/%s", c.scopeID)

	payload := map[string]any{
		"event_type": "new_message",
		"payload": map[string]any{
			"timestamp":       timestamp,
			"msec_timestamp":  timestamp * 1000,
			"msgid":           messageID,
			"conversation_id": conversationID,
			"silent":          false,
			"sender": map[string]string{
				"ref_id": c.senderAmojoID,
			},
			"receiver": map[string]string{
				"id":   customerID,
				"name": customerName,
			},
			"message": map[string]string{
				"type": "text",
				"text": text,
			},
		},
	}

	_, err := c.postChat(ctx, "amocrm.send_manager_message", path, payload)
	return err
}
