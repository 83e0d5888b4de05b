package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/settings"
)

type fakeSettings struct {
	cfg settings.ChatwootSettings
	err error
}

func (f *fakeSettings) Chatwoot(ctx context.Context, companyID int64) (settings.ChatwootSettings, error) {
	return f.cfg, f.err
}

func TestNormalizeCustomerMessage(t *testing.T) {
	payload := []byte(`{
		"event": "message_created",
		"message_type": 0,
		"content": "Hi",
		"id": "ext-55",
		"sender": {"id": 7, "name": "Jane"},
		"conversation": {"id": 901, "channel": "Channel::WebWidget"},
		"inbox": {"id": 3, "name": "Support"}
	}`)

	adapter := New(nil, &fakeSettings{})
	events, err := adapter.Normalize(12, payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, int64(12), ev.CompanyID)
	assert.Equal(t, channel.PlatformChatwoot, ev.Platform)
	assert.Equal(t, "7", ev.ExternalCustomerID)
	assert.Equal(t, "Jane", ev.ExternalCustomerName)
	assert.Equal(t, "901", ev.ExternalThreadID)
	assert.Equal(t, "Support", ev.InboxLabel)
	assert.Equal(t, "Hi", ev.Content)
	assert.Equal(t, "ext-55", ev.ExternalMessageID)
}

func TestNormalizeWhatsAppInbox(t *testing.T) {
	payload := []byte(`{
		"event": "message_created",
		"message_type": 0,
		"content": "hola",
		"id": 56,
		"sender": {"id": "+55119999", "name": "Ana"},
		"conversation": {"id": 902, "channel": "Channel::Whatsapp"},
		"inbox": {"id": 4, "name": "WhatsApp BR"}
	}`)

	adapter := New(nil, &fakeSettings{})
	events, err := adapter.Normalize(12, payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, channel.PlatformWhatsApp, events[0].Platform)
	assert.Equal(t, "56", events[0].ExternalMessageID)
}

func TestNormalizeIgnoresNonCustomerTraffic(t *testing.T) {
	adapter := New(nil, &fakeSettings{})

	cases := map[string]string{
		"outgoing numeric": `{"event":"message_created","message_type":1,"content":"x","conversation":{"id":1}}`,
		"outgoing string":  `{"event":"message_created","message_type":"outgoing","content":"x","conversation":{"id":1}}`,
		"private note":     `{"event":"message_created","message_type":0,"private":true,"content":"x","conversation":{"id":1}}`,
		"other event":      `{"event":"conversation_updated","conversation":{"id":1}}`,
		"empty content":    `{"event":"message_created","message_type":0,"content":"","conversation":{"id":1}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := adapter.Normalize(12, []byte(payload))
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	adapter := New(nil, &fakeSettings{})
	_, err := adapter.Normalize(12, []byte(`not json`))
	assert.Error(t, err)
}

func TestSendReply(t *testing.T) {
	var gotPath, gotToken string
	var gotBody outboundMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("api_access_token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 777}`))
	}))
	defer server.Close()

	adapter := New(nil, &fakeSettings{cfg: settings.ChatwootSettings{
		BaseURL:     server.URL,
		AccessToken: "secret-token",
		AccountID:   12,
	}})

	result, err := adapter.SendReply(context.Background(), channel.ReplyContext{
		CompanyID:        1,
		Platform:         channel.PlatformChatwoot,
		ExternalThreadID: "901",
	}, "On it!")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/accounts/12/conversations/901/messages", gotPath)
	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "On it!", gotBody.Content)
	assert.Equal(t, "outgoing", gotBody.MessageType)
	assert.Equal(t, "777", result.ExternalMessageID)
}

func TestSendReplyProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := New(nil, &fakeSettings{cfg: settings.ChatwootSettings{
		BaseURL:     server.URL,
		AccessToken: "bad",
		AccountID:   12,
	}})

	_, err := adapter.SendReply(context.Background(), channel.ReplyContext{
		CompanyID:        1,
		ExternalThreadID: "901",
	}, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
