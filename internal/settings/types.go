package settings

// Setting keys for the chat-aggregation provider.
const (
	KeyChatwootBaseURL       = "chatwoot.base_url"
	KeyChatwootAccessToken   = "chatwoot.access_token"
	KeyChatwootAccountID     = "chatwoot.account_id"
	KeyChatwootWebhookSecret = "chatwoot.webhook_secret"
)

// Setting keys for the page-messaging provider.
const (
	KeyMessengerPageID      = "messenger.page_id"
	KeyMessengerPageToken   = "messenger.page_token"
	KeyMessengerVerifyToken = "messenger.verify_token"
)

// ChatwootSettings holds a company's chat-aggregation credentials.
type ChatwootSettings struct {
	BaseURL       string `json:"base_url" validate:"required,url"`
	AccessToken   string `json:"access_token" validate:"required"`
	AccountID     int64  `json:"account_id" validate:"required,gt=0"`
	WebhookSecret string `json:"webhook_secret"`
}

// MessengerSettings holds a company's page-messaging credentials.
type MessengerSettings struct {
	PageID      string `json:"page_id" validate:"required"`
	PageToken   string `json:"page_token" validate:"required"`
	VerifyToken string `json:"verify_token"`
}
