// Package ingest runs the inbound pipeline: normalize a provider webhook
// body, drop duplicates, persist, auto-assign new conversations and notify
// dashboards. The provider has already been acked by the time this code
// runs, so every failure here is terminal for the event: logged, dropped,
// never retried.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/conversation"
	"github.com/deskbridge/deskbridge/internal/notify"
)

type normalizerRegistry interface {
	GetNormalizer(platform channel.Platform) (channel.Normalizer, bool)
}

type conversationStore interface {
	HasExternalMessage(ctx context.Context, externalMessageID string) (bool, error)
	FindOrCreate(ctx context.Context, ev channel.InboundEvent) (conversation.Conversation, bool, error)
	AppendInbound(ctx context.Context, conversationID string, ev channel.InboundEvent) (conversation.Message, error)
}

type assigner interface {
	AssignNew(ctx context.Context, conv conversation.Conversation) (string, error)
}

type broadcaster interface {
	Broadcast(companyID int64, eventType string, data any)
}

type Processor struct {
	registry      normalizerRegistry
	conversations conversationStore
	engine        assigner
	hub           broadcaster
	logger        *slog.Logger
}

func NewProcessor(log *slog.Logger, registry normalizerRegistry, conversations conversationStore, engine assigner, hub broadcaster) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		registry:      registry,
		conversations: conversations,
		engine:        engine,
		hub:           hub,
		logger:        log.With(slog.String("service", "ingest")),
	}
}

// Process normalizes one webhook body and runs every resulting event
// through the pipeline. Normalization failures abort the whole body; a
// failure on one event does not stop the others.
func (p *Processor) Process(ctx context.Context, platform channel.Platform, companyID int64, payload []byte) error {
	normalizer, ok := p.registry.GetNormalizer(platform)
	if !ok {
		return fmt.Errorf("no normalizer for platform %s", platform)
	}
	events, err := normalizer.Normalize(companyID, payload)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := p.handle(ctx, ev); err != nil {
			p.logger.Error("inbound event dropped",
				slog.String("platform", ev.Platform.String()),
				slog.Int64("company_id", ev.CompanyID),
				slog.String("external_message_id", ev.ExternalMessageID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, ev channel.InboundEvent) error {
	if ev.ExternalMessageID != "" {
		seen, err := p.conversations.HasExternalMessage(ctx, ev.ExternalMessageID)
		if err != nil {
			return err
		}
		if seen {
			// Redelivery, at-least-once is doing its thing.
			return nil
		}
	}

	conv, created, err := p.conversations.FindOrCreate(ctx, ev)
	if err != nil {
		return err
	}

	msg, err := p.conversations.AppendInbound(ctx, conv.ID, ev)
	if errors.Is(err, conversation.ErrDuplicateMessage) {
		return nil
	}
	if err != nil {
		return err
	}

	if created {
		p.hub.Broadcast(ev.CompanyID, notify.EventConversationCreated, map[string]any{
			"conversation_id": conv.ID,
			"platform":        conv.Platform,
			"inbox_label":     conv.InboxLabel,
		})
		agentID, err := p.engine.AssignNew(ctx, conv)
		if err != nil {
			// Assignment trouble must not lose the message; the sweep
			// will pick the conversation up later.
			p.logger.Error("auto-assignment failed",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err))
		} else if agentID != "" {
			p.hub.Broadcast(ev.CompanyID, notify.EventConversationAssigned, map[string]any{
				"conversation_id": conv.ID,
				"agent_id":        agentID,
				"platform":        conv.Platform,
			})
		}
	}

	p.hub.Broadcast(ev.CompanyID, notify.EventMessageCreated, map[string]any{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"platform":        conv.Platform,
		"inbox_label":     conv.InboxLabel,
	})
	return nil
}
