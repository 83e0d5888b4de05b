package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/auth"
	"github.com/deskbridge/deskbridge/internal/channel/adapters/messenger"
)

// ConnectHandler drives the page-messaging OAuth flow: hand out an
// authorization URL, take the provider callback, then let the operator
// inspect and connect the discovered pages.
type ConnectHandler struct {
	adapter     *messenger.Adapter
	completeURL string
	logger      *slog.Logger
}

func NewConnectHandler(log *slog.Logger, adapter *messenger.Adapter, completeURL string) *ConnectHandler {
	return &ConnectHandler{
		adapter:     adapter,
		completeURL: completeURL,
		logger:      log.With(slog.String("handler", "connect")),
	}
}

func (h *ConnectHandler) Register(e *echo.Echo) {
	e.GET("/connect/messenger/url", h.AuthorizeURL)
	e.GET("/connect/messenger/callback", h.Callback)
	e.GET("/connect/messenger/sessions/:id/pages", h.SessionPages)
	e.POST("/connect/messenger/pages", h.ConnectPages)
}

func (h *ConnectHandler) AuthorizeURL(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	authorizeURL, err := h.adapter.AuthorizeURL(agent.CompanyID)
	if err != nil {
		h.logger.Error("authorize url build failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot build authorization url")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": authorizeURL})
}

// Callback lands the operator's browser after the provider consent screen.
// Outcomes are always redirects to the completion page: a session id on
// success, a human-readable error otherwise. Never a bare 500, the
// operator has no console to read it in.
func (h *ConnectHandler) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return h.completeRedirect(c, url.Values{"error": {"missing code or state"}})
	}

	sessionID, err := h.adapter.Callback(c.Request().Context(), code, state)
	if errors.Is(err, messenger.ErrStateInvalid) {
		return h.completeRedirect(c, url.Values{"error": {"connect link expired, start again"}})
	}
	if err != nil {
		h.logger.Error("connect callback failed", slog.Any("error", err))
		return h.completeRedirect(c, url.Values{"error": {"connection failed, try again"}})
	}
	return h.completeRedirect(c, url.Values{"session": {sessionID}})
}

func (h *ConnectHandler) completeRedirect(c echo.Context, params url.Values) error {
	if h.completeURL == "" {
		if msg := params.Get("error"); msg != "" {
			return echo.NewHTTPError(http.StatusBadRequest, msg)
		}
		return c.JSON(http.StatusOK, map[string]string{"session": params.Get("session")})
	}
	return c.Redirect(http.StatusFound, h.completeURL+"?"+params.Encode())
}

func (h *ConnectHandler) SessionPages(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pages, err := h.adapter.SessionPages(c.Param("id"), agent.CompanyID)
	if errors.Is(err, messenger.ErrSessionExpired) {
		return echo.NewHTTPError(http.StatusNotFound, "session expired")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot list pages")
	}
	// Page tokens stay server-side.
	type pageView struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	views := make([]pageView, 0, len(pages))
	for _, p := range pages {
		views = append(views, pageView{ID: p.ID, Name: p.Name})
	}
	return c.JSON(http.StatusOK, views)
}

type connectPagesRequest struct {
	SessionID string   `json:"session_id"`
	PageIDs   []string `json:"page_ids"`
}

func (h *ConnectHandler) ConnectPages(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var req connectPagesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" || len(req.PageIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and page_ids are required")
	}

	err = h.adapter.ConnectPages(c.Request().Context(), req.SessionID, agent.CompanyID, req.PageIDs)
	if errors.Is(err, messenger.ErrSessionExpired) {
		return echo.NewHTTPError(http.StatusNotFound, "session expired")
	}
	if err != nil {
		h.logger.Error("connect pages failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "connecting pages failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "connected"})
}
