package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/ingest"
	"github.com/deskbridge/deskbridge/internal/settings"
)

// webhookProcessTimeout bounds the out-of-band processing that runs after
// a webhook has been acked.
const webhookProcessTimeout = 30 * time.Second

type chatwootSettingsReader interface {
	Chatwoot(ctx context.Context, companyID int64) (settings.ChatwootSettings, error)
}

// ChatwootWebhookHandler receives chat-aggregator webhooks. The provider
// retries on anything slow or non-2xx, so the body is acked immediately
// and processed out-of-band.
type ChatwootWebhookHandler struct {
	processor *ingest.Processor
	settings  chatwootSettingsReader
	logger    *slog.Logger
}

func NewChatwootWebhookHandler(log *slog.Logger, processor *ingest.Processor, settings chatwootSettingsReader) *ChatwootWebhookHandler {
	return &ChatwootWebhookHandler{
		processor: processor,
		settings:  settings,
		logger:    log.With(slog.String("handler", "chatwoot_webhook")),
	}
}

func (h *ChatwootWebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/chatwoot/:company_id", h.Handle)
}

func (h *ChatwootWebhookHandler) Handle(c echo.Context) error {
	companyID, err := strconv.ParseInt(c.Param("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid company id")
	}

	cfg, err := h.settings.Chatwoot(c.Request().Context(), companyID)
	if errors.Is(err, settings.ErrNotConfigured) {
		return echo.NewHTTPError(http.StatusNotFound, "provider not configured")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "settings lookup failed")
	}
	if cfg.WebhookSecret == "" {
		// Without a shared secret anyone who knows the company id could
		// feed the pipeline. Refuse until one is configured.
		h.logger.Warn("webhook delivery rejected, no webhook secret configured",
			slog.Int64("company_id", companyID))
		return echo.NewHTTPError(http.StatusForbidden, "webhook secret not configured")
	}
	token := c.QueryParam("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.WebhookSecret)) != 1 {
		return echo.NewHTTPError(http.StatusForbidden, "invalid webhook token")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	// Ack first, then process. The provider only needs to know we have
	// the bytes; anything that goes wrong later is logged, not surfaced.
	// The detached context carries its own deadline so a hung downstream
	// call cannot pin the goroutine forever.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), webhookProcessTimeout)
	go func() {
		defer cancel()
		if err := h.processor.Process(ctx, channel.PlatformChatwoot, companyID, body); err != nil {
			h.logger.Error("webhook processing failed",
				slog.Int64("company_id", companyID),
				slog.Any("error", err))
		}
	}()
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
