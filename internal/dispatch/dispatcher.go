// Package dispatch routes agent replies out through the adapter matching
// the conversation's platform.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/conversation"
)

// ErrNoAdapter means the conversation's platform has no sending adapter
// registered or configured.
var ErrNoAdapter = errors.New("no adapter can send on this platform")

type conversationStore interface {
	Get(ctx context.Context, companyID int64, conversationID string) (conversation.Conversation, error)
	AppendAgentReply(ctx context.Context, conversationID, content, externalMessageID string) (conversation.Message, error)
}

type senderRegistry interface {
	GetReplySender(platform channel.Platform) (channel.ReplySender, bool)
}

type Dispatcher struct {
	conversations conversationStore
	registry      senderRegistry
	logger        *slog.Logger
}

func NewDispatcher(log *slog.Logger, registry senderRegistry, conversations conversationStore) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		conversations: conversations,
		registry:      registry,
		logger:        log.With(slog.String("service", "dispatch")),
	}
}

// SendReply delivers an agent's reply through the conversation's provider
// and persists the outbound message. A provider failure propagates without
// persisting anything: no ghost messages for sends that never reached the
// customer.
func (d *Dispatcher) SendReply(ctx context.Context, companyID int64, conversationID, content, authorAgentID string) (conversation.Message, error) {
	conv, err := d.conversations.Get(ctx, companyID, conversationID)
	if err != nil {
		return conversation.Message{}, err
	}

	sender, ok := d.registry.GetReplySender(conv.Platform)
	if !ok {
		return conversation.Message{}, fmt.Errorf("%w: %s", ErrNoAdapter, conv.Platform)
	}

	result, err := sender.SendReply(ctx, channel.ReplyContext{
		CompanyID:          conv.CompanyID,
		Platform:           conv.Platform,
		ExternalThreadID:   conv.ExternalThreadID,
		ExternalCustomerID: conv.ExternalCustomerID,
	}, content)
	if err != nil {
		d.logger.Error("provider send failed",
			slog.String("conversation_id", conversationID),
			slog.String("platform", conv.Platform.String()),
			slog.Any("error", err))
		return conversation.Message{}, err
	}

	msg, err := d.conversations.AppendAgentReply(ctx, conversationID, content, result.ExternalMessageID)
	if err != nil {
		// The customer got the message but the row is missing. Log loudly;
		// the next inbound dedup pass cannot recover this one.
		d.logger.Error("reply sent but not persisted",
			slog.String("conversation_id", conversationID),
			slog.String("agent_id", authorAgentID),
			slog.Any("error", err))
		return conversation.Message{}, err
	}

	d.logger.Info("reply dispatched",
		slog.String("conversation_id", conversationID),
		slog.String("platform", conv.Platform.String()),
		slog.String("agent_id", authorAgentID))
	return msg, nil
}
