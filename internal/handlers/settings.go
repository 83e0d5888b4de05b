package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/auth"
	"github.com/deskbridge/deskbridge/internal/settings"
)

type SettingsHandler struct {
	settings *settings.Service
	logger   *slog.Logger
}

func NewSettingsHandler(log *slog.Logger, svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		settings: svc,
		logger:   log.With(slog.String("handler", "settings")),
	}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	e.GET("/settings/chatwoot", h.GetChatwoot)
	e.PUT("/settings/chatwoot", h.SetChatwoot)
	e.GET("/settings/messenger", h.GetMessenger)
}

// mask keeps the last four characters of a credential for recognition.
func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func (h *SettingsHandler) GetChatwoot(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	cfg, err := h.settings.Chatwoot(c.Request().Context(), caller.CompanyID)
	if errors.Is(err, settings.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusNotFound, "not configured")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "settings lookup failed")
	}
	cfg.AccessToken = mask(cfg.AccessToken)
	cfg.WebhookSecret = mask(cfg.WebhookSecret)
	return c.JSON(http.StatusOK, cfg)
}

func (h *SettingsHandler) SetChatwoot(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var cfg settings.ChatwootSettings
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.settings.SetChatwoot(c.Request().Context(), caller.CompanyID, cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

func (h *SettingsHandler) GetMessenger(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	cfg, err := h.settings.Messenger(c.Request().Context(), caller.CompanyID)
	if errors.Is(err, settings.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusNotFound, "not configured")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "settings lookup failed")
	}
	cfg.PageToken = mask(cfg.PageToken)
	return c.JSON(http.StatusOK, cfg)
}
