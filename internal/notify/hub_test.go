package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, companyID int64, buffer int) *Client {
	c := &Client{
		hub:       h,
		send:      make(chan []byte, buffer),
		companyID: companyID,
	}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcastScopedToCompany(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	c1 := newTestClient(hub, 1, 8)
	c2 := newTestClient(hub, 1, 8)
	other := newTestClient(hub, 2, 8)

	hub.Broadcast(1, EventMessageCreated, map[string]string{"conversation_id": "abc"})

	for _, c := range []*Client{c1, c2} {
		ev := receive(t, c)
		assert.Equal(t, EventMessageCreated, ev.Type)
	}

	select {
	case <-other.send:
		t.Fatal("event leaked to another company")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	slow := newTestClient(hub, 1, 1)
	healthy := newTestClient(hub, 1, 8)

	// Fill the slow client's buffer, then broadcast twice more. The slow
	// client must be dropped without delaying the healthy one.
	hub.Broadcast(1, EventConversationCreated, nil)
	receive(t, healthy)
	hub.Broadcast(1, EventConversationCreated, nil)
	receive(t, healthy)
	hub.Broadcast(1, EventConversationCreated, nil)
	receive(t, healthy)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount(1) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = slow
}
