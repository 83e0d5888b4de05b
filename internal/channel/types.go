// Package channel provides a unified abstraction for external messaging
// providers. It defines the canonical inbound event, adapter interfaces, and
// a registry keyed by platform tag.
package channel

import (
	"context"
	"strings"
)

// Platform identifies the messaging platform a conversation lives on.
type Platform string

const (
	// PlatformChatwoot is the chat-aggregation provider's generic inbox.
	PlatformChatwoot Platform = "chatwoot"
	// PlatformWhatsApp is a chat-aggregation inbox backed by WhatsApp.
	PlatformWhatsApp Platform = "whatsapp"
	// PlatformMessenger is the page-messaging provider.
	PlatformMessenger Platform = "messenger"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// InboundEvent is the canonical representation of one inbound customer
// message, independent of the originating provider.
type InboundEvent struct {
	CompanyID            int64
	Platform             Platform
	ExternalCustomerID   string
	ExternalCustomerName string
	// ExternalThreadID is the provider-side conversation id. Only the
	// chat-aggregation provider has one; empty means the conversation is
	// keyed by customer id instead.
	ExternalThreadID  string
	InboxLabel        string
	Content           string
	ExternalMessageID string
}

// ReplyContext carries the conversation coordinates an adapter needs to
// deliver an outbound reply.
type ReplyContext struct {
	CompanyID          int64
	Platform           Platform
	ExternalThreadID   string
	ExternalCustomerID string
}

// ReplyResult reports the provider-side outcome of a delivered reply.
type ReplyResult struct {
	// ExternalMessageID is the provider's id for the sent message, used to
	// deduplicate a later webhook echo. May be empty.
	ExternalMessageID string
}

// Adapter is the base interface every channel adapter must implement.
// Behavior beyond identification is expressed through optional interfaces.
type Adapter interface {
	// Platforms lists the platform tags this adapter serves.
	Platforms() []Platform
	DisplayName() string
}

// Normalizer translates a raw provider webhook payload into canonical
// events. An empty slice with a nil error means the payload was valid but
// carries nothing to ingest (for example an agent-originated echo).
type Normalizer interface {
	Normalize(companyID int64, payload []byte) ([]InboundEvent, error)
}

// ReplySender delivers an agent reply through the provider's API.
// A non-2xx provider response is a hard failure; implementations must not
// retry automatically.
type ReplySender interface {
	SendReply(ctx context.Context, reply ReplyContext, content string) (ReplyResult, error)
}

// ParsePlatform validates a raw string into a known Platform.
func ParsePlatform(raw string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformChatwoot:
		return PlatformChatwoot, true
	case PlatformWhatsApp:
		return PlatformWhatsApp, true
	case PlatformMessenger:
		return PlatformMessenger, true
	default:
		return "", false
	}
}
