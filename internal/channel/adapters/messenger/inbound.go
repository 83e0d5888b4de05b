package messenger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deskbridge/deskbridge/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Time      int64  `json:"time"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"`
			Message   *struct {
				Mid    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo,omitempty"`
			} `json:"message,omitempty"`
			Delivery *json.RawMessage `json:"delivery,omitempty"`
			Read     *json.RawMessage `json:"read,omitempty"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Normalize maps a page webhook body to canonical inbound events. A single
// body can batch several entries and messaging items; echoes of the page's
// own sends and delivery/read receipts are skipped. Messenger has no
// provider-side thread id, so conversations key on the customer's PSID.
func (a *Adapter) Normalize(companyID int64, payload []byte) ([]channel.InboundEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("messenger webhook payload: %w", err)
	}
	if body.Object != "page" {
		return nil, nil
	}

	var events []channel.InboundEvent
	for _, entry := range body.Entry {
		for _, item := range entry.Messaging {
			if item.Message == nil || item.Message.IsEcho {
				continue
			}
			if strings.TrimSpace(item.Message.Text) == "" {
				continue
			}
			events = append(events, channel.InboundEvent{
				CompanyID:          companyID,
				Platform:           channel.PlatformMessenger,
				ExternalCustomerID: item.Sender.ID,
				InboxLabel:         "Messenger",
				Content:            item.Message.Text,
				ExternalMessageID:  item.Message.Mid,
			})
		}
	}
	return events, nil
}
