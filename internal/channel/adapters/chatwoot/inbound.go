package chatwoot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskbridge/deskbridge/internal/channel"
)

type webhookSender struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type webhookPayload struct {
	Event        string          `json:"event"`
	ID           flexID          `json:"id"`
	Content      string          `json:"content"`
	MessageType  json.RawMessage `json:"message_type"`
	Private      bool            `json:"private"`
	Sender       webhookSender   `json:"sender"`
	Conversation struct {
		ID      flexID `json:"id"`
		Channel string `json:"channel"`
		Meta    struct {
			Sender webhookSender `json:"sender"`
		} `json:"meta"`
	} `json:"conversation"`
	Inbox struct {
		ID   flexID `json:"id"`
		Name string `json:"name"`
	} `json:"inbox"`
}

// incoming reports whether the message direction flag marks a
// customer-originated message. Chatwoot sends the flag as 0/1 in webhook
// bodies and as "incoming"/"outgoing" elsewhere.
func (p webhookPayload) incoming() bool {
	raw := strings.Trim(string(p.MessageType), `"`)
	return raw == "0" || raw == "incoming"
}

// Normalize maps a Chatwoot webhook body to canonical inbound events. Only
// customer-originated message_created events survive: agent replies flow
// out through the dispatcher and would double-record if ingested here.
func (a *Adapter) Normalize(companyID int64, payload []byte) ([]channel.InboundEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("chatwoot webhook payload: %w", err)
	}
	if body.Event != "message_created" {
		return nil, nil
	}
	if !body.incoming() || body.Private {
		return nil, nil
	}
	if strings.TrimSpace(body.Content) == "" {
		return nil, nil
	}
	threadID := body.Conversation.ID.String()
	if threadID == "" {
		a.logger.Warn("message_created without conversation id, dropped",
			slog.Int64("company_id", companyID))
		return nil, nil
	}

	sender := body.Sender
	if sender.ID == "" {
		sender = body.Conversation.Meta.Sender
	}
	customerID := sender.ID.String()
	if customerID == "" {
		// Without a stable customer identity the thread id has to carry it.
		customerID = "conversation:" + threadID
	}

	return []channel.InboundEvent{{
		CompanyID:            companyID,
		Platform:             detectPlatform(body.Conversation.Channel, body.Inbox.Name),
		ExternalCustomerID:   customerID,
		ExternalCustomerName: sender.Name,
		ExternalThreadID:     threadID,
		InboxLabel:           body.Inbox.Name,
		Content:              body.Content,
		ExternalMessageID:    body.ID.String(),
	}}, nil
}

// detectPlatform inspects the inbox's channel-type string. WhatsApp inboxes
// surface as their own platform; everything else stays generic.
func detectPlatform(channelType, inboxName string) channel.Platform {
	haystack := strings.ToLower(channelType + " " + inboxName)
	if strings.Contains(haystack, "whatsapp") {
		return channel.PlatformWhatsApp
	}
	return channel.PlatformChatwoot
}
