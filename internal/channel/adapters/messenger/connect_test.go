package messenger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/deskbridge/deskbridge/internal/oauthstate"
)

// graphStub serves the token exchange, page listing and subscription
// endpoints a full connect flow touches.
func graphStub(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/oauth/token":
			w.Write([]byte(`{"access_token":"short-lived","token_type":"bearer"}`))
		case strings.HasSuffix(r.URL.Path, "/oauth/access_token"):
			w.Write([]byte(`{"access_token":"long-lived"}`))
		case strings.HasSuffix(r.URL.Path, "/me/accounts"):
			w.Write([]byte(`{"data":[
				{"id":"page-1","name":"Storefront","access_token":"page-token-1"},
				{"id":"page-2","name":"Outlet","access_token":"page-token-2"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/subscribed_apps"):
			w.Write([]byte(`{"success":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	return server, &calls
}

func connectAdapter(t *testing.T, server *httptest.Server, store *fakeSettings) *Adapter {
	t.Helper()
	adapter := New(nil, store, testConfig())
	adapter.graphBase = server.URL
	adapter.oauthEndpoint = oauth2.Endpoint{
		AuthURL:  server.URL + "/oauth/authorize",
		TokenURL: server.URL + "/oauth/token",
	}
	adapter.SetStateStore(oauthstate.NewStore(time.Minute), "http://localhost/connect/messenger/callback")
	return adapter
}

func stateFromAuthorizeURL(t *testing.T, authorizeURL string) string {
	t.Helper()
	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestConnectFlow(t *testing.T) {
	server, calls := graphStub(t)
	defer server.Close()
	store := &fakeSettings{}
	adapter := connectAdapter(t, server, store)

	authorizeURL, err := adapter.AuthorizeURL(7)
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, authorizeURL)

	sessionID, err := adapter.Callback(context.Background(), "auth-code", state)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	pages, err := adapter.SessionPages(sessionID, 7)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Storefront", pages[0].Name)

	require.NoError(t, adapter.ConnectPages(context.Background(), sessionID, 7, []string{"page-1"}))

	require.Len(t, store.saved, 1)
	assert.Equal(t, "page-1", store.saved[0].PageID)
	assert.Equal(t, "page-token-1", store.saved[0].PageToken)
	assert.NotEmpty(t, store.saved[0].VerifyToken)

	subscribed := false
	for _, call := range *calls {
		if strings.Contains(call, "/page-1/subscribed_apps") {
			subscribed = true
		}
	}
	assert.True(t, subscribed, "page was never subscribed to webhooks")
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	server, _ := graphStub(t)
	defer server.Close()
	adapter := connectAdapter(t, server, &fakeSettings{})

	authorizeURL, err := adapter.AuthorizeURL(7)
	require.NoError(t, err)
	state := stateFromAuthorizeURL(t, authorizeURL)

	_, err = adapter.Callback(context.Background(), "auth-code", state)
	require.NoError(t, err)

	_, err = adapter.Callback(context.Background(), "auth-code", state)
	assert.ErrorIs(t, err, ErrStateInvalid)
}

func TestCallbackRejectsForgedState(t *testing.T) {
	server, _ := graphStub(t)
	defer server.Close()
	adapter := connectAdapter(t, server, &fakeSettings{})

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"company_id": 7,
		"jti":        "forged",
		"exp":        time.Now().Add(time.Minute).Unix(),
	})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = adapter.Callback(context.Background(), "auth-code", signed)
	assert.ErrorIs(t, err, ErrStateInvalid)
}

func TestCallbackRejectsExpiredState(t *testing.T) {
	server, _ := graphStub(t)
	defer server.Close()
	adapter := connectAdapter(t, server, &fakeSettings{})

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"company_id": 7,
		"jti":        "stale",
		"exp":        time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("app-secret"))
	require.NoError(t, err)

	_, err = adapter.Callback(context.Background(), "auth-code", signed)
	assert.ErrorIs(t, err, ErrStateInvalid)
}

func TestSessionPagesScopedToCompany(t *testing.T) {
	server, _ := graphStub(t)
	defer server.Close()
	adapter := connectAdapter(t, server, &fakeSettings{})

	authorizeURL, err := adapter.AuthorizeURL(7)
	require.NoError(t, err)
	sessionID, err := adapter.Callback(context.Background(), "auth-code", stateFromAuthorizeURL(t, authorizeURL))
	require.NoError(t, err)

	_, err = adapter.SessionPages(sessionID, 8)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestConnectPagesRejectsUnknownPage(t *testing.T) {
	server, _ := graphStub(t)
	defer server.Close()
	store := &fakeSettings{}
	adapter := connectAdapter(t, server, store)

	authorizeURL, err := adapter.AuthorizeURL(7)
	require.NoError(t, err)
	sessionID, err := adapter.Callback(context.Background(), "auth-code", stateFromAuthorizeURL(t, authorizeURL))
	require.NoError(t, err)

	err = adapter.ConnectPages(context.Background(), sessionID, 7, []string{"page-9"})
	require.Error(t, err)
	assert.Empty(t, store.saved)
}
