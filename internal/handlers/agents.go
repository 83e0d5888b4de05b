package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/agents"
	"github.com/deskbridge/deskbridge/internal/auth"
)

type AgentsHandler struct {
	agents *agents.Service
	logger *slog.Logger
}

func NewAgentsHandler(log *slog.Logger, agentSvc *agents.Service) *AgentsHandler {
	return &AgentsHandler{
		agents: agentSvc,
		logger: log.With(slog.String("handler", "agents")),
	}
}

func (h *AgentsHandler) Register(e *echo.Echo) {
	e.GET("/agents", h.List)
	e.PUT("/agents/presence", h.SetPresence)
}

func (h *AgentsHandler) List(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	items, err := h.agents.List(c.Request().Context(), caller.CompanyID)
	if err != nil {
		h.logger.Error("list agents failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing failed")
	}
	return c.JSON(http.StatusOK, items)
}

type presenceRequest struct {
	Online bool `json:"online"`
}

// SetPresence flips the calling agent's own online flag. Going online
// makes the agent immediately eligible for new assignments; going offline
// keeps existing assignments untouched.
func (h *AgentsHandler) SetPresence(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var req presenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err = h.agents.SetPresence(c.Request().Context(), caller.CompanyID, caller.AgentID, req.Online)
	if errors.Is(err, agents.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "presence update failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"online": req.Online})
}
