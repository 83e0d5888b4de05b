// Package conversation is the canonical store for conversations and their
// messages. It is the single source of truth for assignment state; every
// read and write is scoped by company id.
package conversation

import (
	"errors"
	"time"

	"github.com/deskbridge/deskbridge/internal/channel"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// SenderType distinguishes who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// ErrNotFound is returned when a conversation does not exist within the
// caller's company. A row in another tenant is indistinguishable from no
// row at all.
var ErrNotFound = errors.New("conversation not found")

// ErrDuplicateMessage signals that a message with the same external id is
// already stored. Expected under at-least-once webhook delivery.
var ErrDuplicateMessage = errors.New("duplicate external message")

// Conversation is one thread with exactly one external customer identity on
// exactly one platform. Conversations are never deleted, only closed.
type Conversation struct {
	ID                   string           `json:"id"`
	CompanyID            int64            `json:"company_id"`
	Platform             channel.Platform `json:"platform"`
	ExternalCustomerID   string           `json:"external_customer_id"`
	ExternalCustomerName string           `json:"external_customer_name"`
	ExternalThreadID     string           `json:"external_thread_id,omitempty"`
	InboxLabel           string           `json:"inbox_label,omitempty"`
	AssignedAgentID      string           `json:"assigned_agent_id,omitempty"`
	AssignedAt           *time.Time       `json:"assigned_at,omitempty"`
	LastMessageAt        time.Time        `json:"last_message_at"`
	Status               Status           `json:"status"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Message is one unit of content within a conversation. Immutable after
// creation except for the read flag.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	SenderType        SenderType `json:"sender_type"`
	Content           string     `json:"content,omitempty"`
	ExternalMessageID string     `json:"external_message_id,omitempty"`
	Read              bool       `json:"read"`
	CreatedAt         time.Time  `json:"created_at"`
}
