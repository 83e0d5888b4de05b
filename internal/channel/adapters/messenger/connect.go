package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/deskbridge/deskbridge/internal/oauthstate"
	"github.com/deskbridge/deskbridge/internal/settings"
)

// stateTTL bounds how long an authorization URL stays usable.
const stateTTL = 10 * time.Minute

var oauthScopes = []string{"pages_show_list", "pages_messaging", "pages_manage_metadata"}

// ErrStateInvalid covers every way a callback state can be bad: expired,
// forged, or already used. Callers surface it to the operator, never as a
// server error.
var ErrStateInvalid = errors.New("connect state invalid or expired")

// ErrSessionExpired means the operator took too long between the callback
// and picking pages.
var ErrSessionExpired = errors.New("connect session expired")

// Page is one Facebook page discovered during a connect flow.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type connectSession struct {
	CompanyID int64
	Pages     []Page
}

// SetStateStore wires the short-lived store used for state nonces and
// callback sessions, plus the redirect URL registered with the app.
func (a *Adapter) SetStateStore(states *oauthstate.Store, redirectURL string) {
	a.states = states
	a.redirectURL = redirectURL
}

func (a *Adapter) oauthConfig() *oauth2.Config {
	endpoint := a.oauthEndpoint
	if endpoint.AuthURL == "" {
		endpoint = facebook.Endpoint
	}
	return &oauth2.Config{
		ClientID:     a.cfg.AppID,
		ClientSecret: a.cfg.AppSecret,
		Endpoint:     endpoint,
		RedirectURL:  a.redirectURL,
		Scopes:       oauthScopes,
	}
}

// AuthorizeURL builds the URL an operator visits to start connecting a
// page. The embedded state is a signed, ten-minute, single-use token bound
// to the caller's company.
func (a *Adapter) AuthorizeURL(companyID int64) (string, error) {
	if a.cfg.AppID == "" || a.cfg.AppSecret == "" {
		return "", settings.ErrNotConfigured
	}
	jti := uuid.NewString()
	now := time.Now()
	claims := jwt.MapClaims{
		"company_id": companyID,
		"jti":        jti,
		"iat":        now.Unix(),
		"exp":        now.Add(stateTTL).Unix(),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.AppSecret))
	if err != nil {
		return "", err
	}
	a.states.Put("state:"+jti, companyID)
	return a.oauthConfig().AuthCodeURL(state), nil
}

// Callback consumes the state, exchanges the authorization code for a
// long-lived token and enumerates the business's pages. It returns a
// session id under which the pages are held until the operator picks some.
func (a *Adapter) Callback(ctx context.Context, code, state string) (string, error) {
	companyID, jti, err := a.parseState(state)
	if err != nil {
		return "", err
	}
	if _, ok := a.states.Take("state:" + jti); !ok {
		return "", ErrStateInvalid
	}

	tok, err := a.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}
	longLived, err := a.exchangeLongLived(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}
	pages, err := a.listPages(ctx, longLived)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	a.states.Put("session:"+sessionID, connectSession{CompanyID: companyID, Pages: pages})
	return sessionID, nil
}

func (a *Adapter) parseState(state string) (int64, string, error) {
	token, err := jwt.Parse(state, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.AppSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", ErrStateInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", ErrStateInvalid
	}
	companyID, ok := claims["company_id"].(float64)
	if !ok {
		return 0, "", ErrStateInvalid
	}
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return 0, "", ErrStateInvalid
	}
	return int64(companyID), jti, nil
}

// SessionPages lists the pages discovered during a callback. The session
// stays readable until it expires so the operator can reload the picker.
func (a *Adapter) SessionPages(sessionID string, companyID int64) ([]Page, error) {
	v, ok := a.states.Get("session:" + sessionID)
	if !ok {
		return nil, ErrSessionExpired
	}
	session, ok := v.(connectSession)
	if !ok || session.CompanyID != companyID {
		return nil, ErrSessionExpired
	}
	return session.Pages, nil
}

// ConnectPages persists the chosen page's credentials and subscribes the
// app to its message webhooks.
func (a *Adapter) ConnectPages(ctx context.Context, sessionID string, companyID int64, pageIDs []string) error {
	pages, err := a.SessionPages(sessionID, companyID)
	if err != nil {
		return err
	}
	if len(pageIDs) == 0 {
		return fmt.Errorf("no pages selected")
	}

	existing, err := a.settings.Messenger(ctx, companyID)
	verifyToken := existing.VerifyToken
	if err != nil || verifyToken == "" {
		verifyToken = uuid.NewString()
	}

	for _, pageID := range pageIDs {
		page, ok := findPage(pages, pageID)
		if !ok {
			return fmt.Errorf("page %s not part of this session", pageID)
		}
		if err := a.subscribePage(ctx, page); err != nil {
			return err
		}
		if err := a.settings.SetMessenger(ctx, companyID, settings.MessengerSettings{
			PageID:      page.ID,
			PageToken:   page.AccessToken,
			VerifyToken: verifyToken,
		}); err != nil {
			return err
		}
	}
	return nil
}

func findPage(pages []Page, id string) (Page, bool) {
	for _, p := range pages {
		if p.ID == id {
			return p, true
		}
	}
	return Page{}, false
}

// exchangeLongLived swaps a short-lived user token for the 60-day variant.
func (a *Adapter) exchangeLongLived(ctx context.Context, shortLived string) (string, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", a.cfg.AppID)
	q.Set("client_secret", a.cfg.AppSecret)
	q.Set("fb_exchange_token", shortLived)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := a.graphGet(ctx, fmt.Sprintf("%s/%s/oauth/access_token?%s", a.graphBase, a.cfg.GraphVersion, q.Encode()), &out)
	if err != nil {
		return "", fmt.Errorf("long-lived token exchange: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("long-lived token exchange: empty token")
	}
	return out.AccessToken, nil
}

func (a *Adapter) listPages(ctx context.Context, userToken string) ([]Page, error) {
	var out struct {
		Data []Page `json:"data"`
	}
	err := a.graphGet(ctx, fmt.Sprintf("%s/%s/me/accounts?access_token=%s", a.graphBase, a.cfg.GraphVersion, url.QueryEscape(userToken)), &out)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out.Data, nil
}

func (a *Adapter) subscribePage(ctx context.Context, page Page) error {
	q := url.Values{}
	q.Set("subscribed_fields", "messages,messaging_postbacks")
	q.Set("access_token", page.AccessToken)

	uri := fmt.Sprintf("%s/%s/%s/subscribed_apps?%s", a.graphBase, a.cfg.GraphVersion, page.ID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe page %s: %w", page.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("subscribe page %s: status %d: %s", page.ID, resp.StatusCode, snippet)
	}
	return nil
}

func (a *Adapter) graphGet(ctx context.Context, uri string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
