package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/agents"
	"github.com/deskbridge/deskbridge/internal/auth"
	"github.com/deskbridge/deskbridge/internal/conversation"
	"github.com/deskbridge/deskbridge/internal/dispatch"
	"github.com/deskbridge/deskbridge/internal/notify"
	"github.com/deskbridge/deskbridge/internal/settings"
)

type ConversationsHandler struct {
	conversations *conversation.Service
	agents        *agents.Service
	dispatcher    *dispatch.Dispatcher
	hub           *notify.Hub
	logger        *slog.Logger
}

func NewConversationsHandler(log *slog.Logger, conversations *conversation.Service, agentSvc *agents.Service, dispatcher *dispatch.Dispatcher, hub *notify.Hub) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversations,
		agents:        agentSvc,
		dispatcher:    dispatcher,
		hub:           hub,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	e.GET("/conversations", h.List)
	e.GET("/conversations/:id", h.Get)
	e.GET("/conversations/:id/messages", h.History)
	e.POST("/conversations/:id/reply", h.Reply)
	e.POST("/conversations/:id/reassign", h.Reassign)
	e.POST("/conversations/:id/close", h.Close)
}

func (h *ConversationsHandler) List(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	status := conversation.Status(c.QueryParam("status"))
	switch status {
	case "", conversation.StatusOpen, conversation.StatusClosed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	items, err := h.conversations.List(c.Request().Context(), agent.CompanyID, status)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing failed")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConversationsHandler) Get(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	conv, err := h.conversations.Get(c.Request().Context(), agent.CompanyID, c.Param("id"))
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) History(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	messages, err := h.conversations.History(c.Request().Context(), agent.CompanyID, c.Param("id"))
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "history lookup failed")
	}
	return c.JSON(http.StatusOK, messages)
}

type replyRequest struct {
	Content string `json:"content"`
}

func (h *ConversationsHandler) Reply(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	msg, err := h.dispatcher.SendReply(c.Request().Context(), agent.CompanyID, c.Param("id"), req.Content, agent.AgentID)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, dispatch.ErrNoAdapter), errors.Is(err, settings.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusConflict, "platform is not configured for sending")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, "provider rejected the reply")
	}
	return c.JSON(http.StatusOK, msg)
}

type reassignRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *ConversationsHandler) Reassign(c echo.Context) error {
	caller, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var req reassignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}

	// The target must exist in the caller's company before the overwrite.
	if _, err := h.agents.Get(c.Request().Context(), caller.CompanyID, req.AgentID); err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "agent lookup failed")
	}

	conversationID := c.Param("id")
	err = h.conversations.Reassign(c.Request().Context(), caller.CompanyID, conversationID, req.AgentID)
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reassignment failed")
	}

	h.hub.Broadcast(caller.CompanyID, notify.EventConversationAssigned, map[string]string{
		"conversation_id": conversationID,
		"agent_id":        req.AgentID,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "reassigned"})
}

func (h *ConversationsHandler) Close(c echo.Context) error {
	agent, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	err = h.conversations.Close(c.Request().Context(), agent.CompanyID, c.Param("id"))
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "close failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}
