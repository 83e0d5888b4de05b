// Package messenger adapts Facebook Messenger page webhooks and the Graph
// API to the channel model, and owns the one-time OAuth flow that connects
// a page to a company.
package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/oauthstate"
	"github.com/deskbridge/deskbridge/internal/settings"
)

const defaultGraphBase = "https://graph.facebook.com"

type settingsStore interface {
	Messenger(ctx context.Context, companyID int64) (settings.MessengerSettings, error)
	SetMessenger(ctx context.Context, companyID int64, cfg settings.MessengerSettings) error
}

// Adapter implements channel.Adapter, channel.Normalizer and
// channel.ReplySender for Messenger pages.
type Adapter struct {
	logger      *slog.Logger
	settings    settingsStore
	cfg         config.MessengerConfig
	client      *http.Client
	graphBase   string
	states      *oauthstate.Store
	redirectURL string

	// overridden in tests
	oauthEndpoint oauth2.Endpoint
}

func New(log *slog.Logger, store settingsStore, cfg config.MessengerConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:    log.With(slog.String("adapter", "messenger")),
		settings:  store,
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		graphBase: defaultGraphBase,
	}
}

func (a *Adapter) Platforms() []channel.Platform {
	return []channel.Platform{channel.PlatformMessenger}
}

func (a *Adapter) DisplayName() string {
	return "Facebook Messenger"
}

// VerifySignature checks the X-Hub-Signature-256 header against the app
// secret. Bodies that fail this check never reach normalization.
func (a *Adapter) VerifySignature(body []byte, signature string) bool {
	if a.cfg.AppSecret == "" || !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(signature, "sha256=")), []byte(expected))
}

// VerifySubscription answers Facebook's GET verification handshake,
// returning the challenge to echo back or an error when the verify token
// does not match the company's stored one.
func (a *Adapter) VerifySubscription(ctx context.Context, companyID int64, mode, token, challenge string) (string, error) {
	cfg, err := a.settings.Messenger(ctx, companyID)
	if err != nil {
		return "", err
	}
	if mode != "subscribe" || token == "" || token != cfg.VerifyToken {
		return "", fmt.Errorf("verify token mismatch")
	}
	return challenge, nil
}

type sendMessageRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"`
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
}

// SendReply delivers a text message to the customer through the company's
// page token. Non-2xx responses are hard failures and nothing is retried
// here; a duplicate send is worse than a delayed one.
func (a *Adapter) SendReply(ctx context.Context, reply channel.ReplyContext, content string) (channel.ReplyResult, error) {
	cfg, err := a.settings.Messenger(ctx, reply.CompanyID)
	if err != nil {
		return channel.ReplyResult{}, err
	}

	var body sendMessageRequest
	body.Recipient.ID = reply.ExternalCustomerID
	body.Message.Text = content
	body.MessagingType = "RESPONSE"

	payload, err := json.Marshal(body)
	if err != nil {
		return channel.ReplyResult{}, err
	}

	url := fmt.Sprintf("%s/%s/me/messages?access_token=%s", a.graphBase, a.cfg.GraphVersion, cfg.PageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return channel.ReplyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return channel.ReplyResult{}, fmt.Errorf("messenger send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return channel.ReplyResult{}, fmt.Errorf("messenger send message: status %d: %s", resp.StatusCode, snippet)
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.logger.Warn("messenger send response not parseable", slog.Any("error", err))
		return channel.ReplyResult{}, nil
	}
	return channel.ReplyResult{ExternalMessageID: out.MessageID}, nil
}

var _ channel.ReplySender = (*Adapter)(nil)
var _ channel.Normalizer = (*Adapter)(nil)
