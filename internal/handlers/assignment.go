package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/assignment"
	"github.com/deskbridge/deskbridge/internal/auth"
)

type AssignmentHandler struct {
	engine *assignment.Engine
	logger *slog.Logger
}

func NewAssignmentHandler(log *slog.Logger, engine *assignment.Engine) *AssignmentHandler {
	return &AssignmentHandler{
		engine: engine,
		logger: log.With(slog.String("handler", "assignment")),
	}
}

func (h *AssignmentHandler) Register(e *echo.Echo) {
	e.GET("/assignment/stats", h.Stats)
	e.POST("/assignment/redistribute", h.Redistribute)
}

func (h *AssignmentHandler) Stats(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	stats, err := h.engine.Stats(c.Request().Context(), agent.CompanyID)
	if err != nil {
		h.logger.Error("stats failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stats failed")
	}
	return c.JSON(http.StatusOK, stats)
}

type redistributeRequest struct {
	Count int `json:"count"`
}

func (h *AssignmentHandler) Redistribute(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var req redistributeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := h.engine.Redistribute(c.Request().Context(), agent.CompanyID, req.Count)
	if err != nil {
		h.logger.Error("redistribution failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "redistribution failed")
	}
	return c.JSON(http.StatusOK, report)
}
