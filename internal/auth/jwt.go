package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject   = "sub"
	claimAgentID   = "agent_id"
	claimCompanyID = "company_id"
)

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// AgentToken holds the identity claims carried by an operator session token.
type AgentToken struct {
	AgentID   string
	CompanyID int64
}

// GenerateAgentToken creates a signed JWT for an agent session.
// Token issuance lives outside this service; this helper exists for
// tooling and tests.
func GenerateAgentToken(info AgentToken, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(info.AgentID) == "" {
		return "", time.Time{}, fmt.Errorf("agent id is required")
	}
	if info.CompanyID <= 0 {
		return "", time.Time{}, fmt.Errorf("company id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject:   info.AgentID,
		claimAgentID:   info.AgentID,
		claimCompanyID: info.CompanyID,
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// AgentFromContext extracts the agent identity from JWT claims.
func AgentFromContext(c echo.Context) (AgentToken, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return AgentToken{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AgentToken{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	info := AgentToken{
		AgentID:   claimString(claims, claimAgentID),
		CompanyID: claimInt64(claims, claimCompanyID),
	}
	if info.AgentID == "" {
		info.AgentID = claimString(claims, claimSubject)
	}
	if info.AgentID == "" {
		return AgentToken{}, echo.NewHTTPError(http.StatusUnauthorized, "agent id missing")
	}
	if info.CompanyID <= 0 {
		return AgentToken{}, echo.NewHTTPError(http.StatusUnauthorized, "company id missing")
	}
	return info, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}

func claimInt64(claims jwt.MapClaims, key string) int64 {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
