package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func parseForContext(t *testing.T, signed string) *jwt.Token {
	t.Helper()
	token, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	return token
}

func contextWithToken(token *jwt.Token) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("user", token)
	return c
}

func TestGenerateAgentTokenRoundTrip(t *testing.T) {
	signed, expiresAt, err := GenerateAgentToken(AgentToken{
		AgentID:   "agent-1",
		CompanyID: 42,
	}, testSecret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	info, err := AgentFromContext(contextWithToken(parseForContext(t, signed)))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", info.AgentID)
	assert.Equal(t, int64(42), info.CompanyID)
}

func TestGenerateAgentTokenValidation(t *testing.T) {
	cases := map[string]struct {
		info      AgentToken
		secret    string
		expiresIn time.Duration
	}{
		"missing agent id":   {AgentToken{CompanyID: 1}, testSecret, time.Hour},
		"missing company id": {AgentToken{AgentID: "a"}, testSecret, time.Hour},
		"empty secret":       {AgentToken{AgentID: "a", CompanyID: 1}, "", time.Hour},
		"zero expiry":        {AgentToken{AgentID: "a", CompanyID: 1}, testSecret, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := GenerateAgentToken(tc.info, tc.secret, tc.expiresIn)
			assert.Error(t, err)
		})
	}
}

func TestAgentFromContextMissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	_, err := AgentFromContext(c)
	assert.Error(t, err)
}

func TestAgentFromContextRejectsIncompleteClaims(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "agent-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = AgentFromContext(contextWithToken(parseForContext(t, signed)))
	assert.Error(t, err, "token without company_id must be rejected")
}
