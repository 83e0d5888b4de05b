package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/channel/adapters/messenger"
	"github.com/deskbridge/deskbridge/internal/ingest"
	"github.com/deskbridge/deskbridge/internal/settings"
)

// MessengerWebhookHandler receives page webhooks: the GET verification
// handshake Facebook performs when a page subscribes, and the POST
// deliveries afterwards. POST bodies are signature-checked against the app
// secret before anything else happens.
type MessengerWebhookHandler struct {
	processor *ingest.Processor
	adapter   *messenger.Adapter
	logger    *slog.Logger
}

func NewMessengerWebhookHandler(log *slog.Logger, processor *ingest.Processor, adapter *messenger.Adapter) *MessengerWebhookHandler {
	return &MessengerWebhookHandler{
		processor: processor,
		adapter:   adapter,
		logger:    log.With(slog.String("handler", "messenger_webhook")),
	}
}

func (h *MessengerWebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/messenger/:company_id", h.Verify)
	e.POST("/webhooks/messenger/:company_id", h.Handle)
}

func (h *MessengerWebhookHandler) Verify(c echo.Context) error {
	companyID, err := strconv.ParseInt(c.Param("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid company id")
	}

	challenge, err := h.adapter.VerifySubscription(
		c.Request().Context(),
		companyID,
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if errors.Is(err, settings.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusNotFound, "provider not configured")
	}
	if err != nil {
		h.logger.Warn("webhook verification rejected", slog.Int64("company_id", companyID))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

func (h *MessengerWebhookHandler) Handle(c echo.Context) error {
	companyID, err := strconv.ParseInt(c.Param("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid company id")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}
	if !h.adapter.VerifySignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("invalid webhook signature", slog.Int64("company_id", companyID))
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), webhookProcessTimeout)
	go func() {
		defer cancel()
		if err := h.processor.Process(ctx, channel.PlatformMessenger, companyID, body); err != nil {
			h.logger.Error("webhook processing failed",
				slog.Int64("company_id", companyID),
				slog.Any("error", err))
		}
	}()
	return c.String(http.StatusOK, "EVENT_RECEIVED")
}
