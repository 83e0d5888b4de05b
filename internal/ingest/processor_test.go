package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskbridge/deskbridge/internal/channel"
	"github.com/deskbridge/deskbridge/internal/conversation"
	"github.com/deskbridge/deskbridge/internal/notify"
)

type fakeNormalizer struct {
	events []channel.InboundEvent
	err    error
}

func (f *fakeNormalizer) Normalize(companyID int64, payload []byte) ([]channel.InboundEvent, error) {
	return f.events, f.err
}

type fakeRegistry struct {
	normalizer channel.Normalizer
}

func (f *fakeRegistry) GetNormalizer(platform channel.Platform) (channel.Normalizer, bool) {
	if f.normalizer == nil {
		return nil, false
	}
	return f.normalizer, true
}

type fakeStore struct {
	seen      map[string]bool
	conv      conversation.Conversation
	created   bool
	appended  []channel.InboundEvent
	appendErr error
}

func (f *fakeStore) HasExternalMessage(ctx context.Context, externalMessageID string) (bool, error) {
	return f.seen[externalMessageID], nil
}

func (f *fakeStore) FindOrCreate(ctx context.Context, ev channel.InboundEvent) (conversation.Conversation, bool, error) {
	return f.conv, f.created, nil
}

func (f *fakeStore) AppendInbound(ctx context.Context, conversationID string, ev channel.InboundEvent) (conversation.Message, error) {
	if f.appendErr != nil {
		return conversation.Message{}, f.appendErr
	}
	f.appended = append(f.appended, ev)
	return conversation.Message{ID: "msg-1", ConversationID: conversationID}, nil
}

type fakeAssigner struct {
	agentID  string
	assigned []string
}

func (f *fakeAssigner) AssignNew(ctx context.Context, conv conversation.Conversation) (string, error) {
	f.assigned = append(f.assigned, conv.ID)
	return f.agentID, nil
}

type fakeHub struct {
	events []string
}

func (f *fakeHub) Broadcast(companyID int64, eventType string, data any) {
	f.events = append(f.events, eventType)
}

func event(msgID string) channel.InboundEvent {
	return channel.InboundEvent{
		CompanyID:          1,
		Platform:           channel.PlatformChatwoot,
		ExternalCustomerID: "7",
		ExternalThreadID:   "901",
		Content:            "Hi",
		ExternalMessageID:  msgID,
	}
}

func newProcessor(store *fakeStore, engine *fakeAssigner, hub *fakeHub, events ...channel.InboundEvent) *Processor {
	return NewProcessor(nil, &fakeRegistry{normalizer: &fakeNormalizer{events: events}}, store, engine, hub)
}

func TestProcessNewConversationAssignsAndNotifies(t *testing.T) {
	store := &fakeStore{conv: conversation.Conversation{ID: "conv-1", CompanyID: 1}, created: true}
	engine := &fakeAssigner{agentID: "agent-1"}
	hub := &fakeHub{}
	p := newProcessor(store, engine, hub, event("ext-55"))

	require.NoError(t, p.Process(context.Background(), channel.PlatformChatwoot, 1, []byte(`{}`)))

	require.Len(t, store.appended, 1)
	assert.Equal(t, []string{"conv-1"}, engine.assigned)
	assert.Equal(t, []string{
		notify.EventConversationCreated,
		notify.EventConversationAssigned,
		notify.EventMessageCreated,
	}, hub.events)
}

func TestProcessNoCapacitySkipsAssignedEvent(t *testing.T) {
	store := &fakeStore{conv: conversation.Conversation{ID: "conv-1", CompanyID: 1}, created: true}
	engine := &fakeAssigner{}
	hub := &fakeHub{}
	p := newProcessor(store, engine, hub, event("ext-55"))

	require.NoError(t, p.Process(context.Background(), channel.PlatformChatwoot, 1, []byte(`{}`)))

	assert.Equal(t, []string{notify.EventConversationCreated, notify.EventMessageCreated}, hub.events)
}

func TestProcessDuplicateIsSilentNoOp(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{"ext-55": true}}
	engine := &fakeAssigner{}
	hub := &fakeHub{}
	p := newProcessor(store, engine, hub, event("ext-55"))

	require.NoError(t, p.Process(context.Background(), channel.PlatformChatwoot, 1, []byte(`{}`)))

	assert.Empty(t, store.appended)
	assert.Empty(t, engine.assigned)
	assert.Empty(t, hub.events)
}

func TestProcessExistingConversationSkipsAssignment(t *testing.T) {
	store := &fakeStore{conv: conversation.Conversation{ID: "conv-1", CompanyID: 1}, created: false}
	engine := &fakeAssigner{}
	hub := &fakeHub{}
	p := newProcessor(store, engine, hub, event("ext-56"))

	require.NoError(t, p.Process(context.Background(), channel.PlatformChatwoot, 1, []byte(`{}`)))

	assert.Empty(t, engine.assigned)
	assert.Equal(t, []string{notify.EventMessageCreated}, hub.events)
}

func TestProcessLostInsertRace(t *testing.T) {
	store := &fakeStore{
		conv:      conversation.Conversation{ID: "conv-1", CompanyID: 1},
		appendErr: conversation.ErrDuplicateMessage,
	}
	engine := &fakeAssigner{}
	hub := &fakeHub{}
	p := newProcessor(store, engine, hub, event("ext-55"))

	require.NoError(t, p.Process(context.Background(), channel.PlatformChatwoot, 1, []byte(`{}`)))
	assert.Empty(t, hub.events)
}

func TestProcessUnknownPlatform(t *testing.T) {
	p := NewProcessor(nil, &fakeRegistry{}, &fakeStore{}, &fakeAssigner{}, &fakeHub{})
	err := p.Process(context.Background(), channel.Platform("carrier-pigeon"), 1, []byte(`{}`))
	assert.Error(t, err)
}
