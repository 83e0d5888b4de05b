package oauthstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTakeIsSingleUse(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	s.Put("nonce", "payload")

	v, ok := s.Take("nonce")
	assert.True(t, ok)
	assert.Equal(t, "payload", v)

	_, ok = s.Take("nonce")
	assert.False(t, ok)
}

func TestGetKeepsValue(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	s.Put("session", []string{"a", "b"})

	for i := 0; i < 2; i++ {
		v, ok := s.Get("session")
		assert.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, v)
	}
}

func TestExpiredEntriesAreGone(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	defer s.Close()

	s.Put("nonce", "payload")
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("nonce")
	assert.False(t, ok)
	_, ok = s.Take("nonce")
	assert.False(t, ok)
}
