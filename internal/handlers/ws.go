package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/auth"
	"github.com/deskbridge/deskbridge/internal/notify"
)

// WSHandler upgrades dashboard connections. The JWT middleware accepts the
// token from the query string, which is how browser WebSocket clients
// authenticate.
type WSHandler struct {
	hub    *notify.Hub
	logger *slog.Logger
}

func NewWSHandler(log *slog.Logger, hub *notify.Hub) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: log.With(slog.String("handler", "ws")),
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

func (h *WSHandler) Connect(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return h.hub.ServeWS(c.Response(), c.Request(), caller.CompanyID, caller.AgentID)
}
