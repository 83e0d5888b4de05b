package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	tags []Platform
}

func (a *stubAdapter) Platforms() []Platform { return a.tags }
func (a *stubAdapter) DisplayName() string   { return "stub" }

type stubSendingAdapter struct {
	stubAdapter
}

func (a *stubSendingAdapter) SendReply(ctx context.Context, reply ReplyContext, content string) (ReplyResult, error) {
	return ReplyResult{ExternalMessageID: "sent"}, nil
}

func TestRegistryRegisterMultipleTags(t *testing.T) {
	r := NewRegistry()
	adapter := &stubAdapter{tags: []Platform{PlatformChatwoot, PlatformWhatsApp}}
	require.NoError(t, r.Register(adapter))

	got, ok := r.Get(PlatformChatwoot)
	assert.True(t, ok)
	assert.Same(t, adapter, got)

	got, ok = r.Get(PlatformWhatsApp)
	assert.True(t, ok)
	assert.Same(t, adapter, got)

	_, ok = r.Get(PlatformMessenger)
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateTag(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAdapter{tags: []Platform{PlatformMessenger}}))
	err := r.Register(&stubAdapter{tags: []Platform{PlatformMessenger}})
	assert.Error(t, err)
}

func TestRegistryGetReplySender(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubSendingAdapter{stubAdapter{tags: []Platform{PlatformMessenger}}}))
	require.NoError(t, r.Register(&stubAdapter{tags: []Platform{PlatformChatwoot}}))

	sender, ok := r.GetReplySender(PlatformMessenger)
	assert.True(t, ok)
	assert.NotNil(t, sender)

	// Registered but not a ReplySender.
	_, ok = r.GetReplySender(PlatformChatwoot)
	assert.False(t, ok)

	// Unknown platform.
	_, ok = r.GetReplySender(Platform("carrier-pigeon"))
	assert.False(t, ok)
}

func TestParsePlatform(t *testing.T) {
	p, ok := ParsePlatform(" Whatsapp ")
	assert.True(t, ok)
	assert.Equal(t, PlatformWhatsApp, p)

	_, ok = ParsePlatform("smoke-signal")
	assert.False(t, ok)
}
