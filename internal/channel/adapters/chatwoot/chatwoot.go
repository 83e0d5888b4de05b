// Package chatwoot adapts Chatwoot webhook payloads and the Chatwoot REST
// API to the channel model. One Chatwoot account aggregates several inbox
// types; WhatsApp inboxes are surfaced as their own platform.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/settings"
)

type settingsReader interface {
	Chatwoot(ctx context.Context, companyID int64) (settings.ChatwootSettings, error)
}

// Adapter implements channel.Adapter, channel.Normalizer and
// channel.ReplySender for Chatwoot-backed inboxes.
type Adapter struct {
	logger   *slog.Logger
	settings settingsReader
	client   *http.Client
}

func New(log *slog.Logger, settings settingsReader) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "chatwoot")),
		settings: settings,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Platforms claims both tags: WhatsApp traffic arrives through the same
// Chatwoot account and is routed back through the same API.
func (a *Adapter) Platforms() []channel.Platform {
	return []channel.Platform{channel.PlatformChatwoot, channel.PlatformWhatsApp}
}

func (a *Adapter) DisplayName() string {
	return "Chatwoot"
}

type outboundMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

type outboundMessageResponse struct {
	ID json.Number `json:"id"`
}

// SendReply posts an outgoing message to the Chatwoot conversation behind
// reply.ExternalThreadID. A non-2xx response is a hard failure; there is no
// retry here.
func (a *Adapter) SendReply(ctx context.Context, reply channel.ReplyContext, content string) (channel.ReplyResult, error) {
	cfg, err := a.settings.Chatwoot(ctx, reply.CompanyID)
	if err != nil {
		return channel.ReplyResult{}, err
	}

	body, err := json.Marshal(outboundMessageRequest{Content: content, MessageType: "outgoing"})
	if err != nil {
		return channel.ReplyResult{}, err
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%s/messages",
		cfg.BaseURL, cfg.AccountID, reply.ExternalThreadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return channel.ReplyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_access_token", cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return channel.ReplyResult{}, fmt.Errorf("chatwoot send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return channel.ReplyResult{}, fmt.Errorf("chatwoot send message: status %d: %s", resp.StatusCode, snippet)
	}

	var out outboundMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.logger.Warn("chatwoot message response not parseable", slog.Any("error", err))
		return channel.ReplyResult{}, nil
	}
	return channel.ReplyResult{ExternalMessageID: out.ID.String()}, nil
}

var _ channel.ReplySender = (*Adapter)(nil)
var _ channel.Normalizer = (*Adapter)(nil)

// flexID tolerates Chatwoot's habit of sending ids as either numbers or
// strings depending on the payload.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }
