package ws

import (
	"testing"
)

func TestNewHub(t *testing.T) {
	h := NewHub()
	if h == nil {
		t.Fatal("NewHub returned nil")
	}
	if got := h.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", got)
	}
}

func TestBroadcastNoConnections(t *testing.T) {
	h := NewHub()
	// Should not panic with no active connections.
	h.Broadcast(EventVerdictApproved, map[string]string{"agent_id": "0xabc"})
}

func TestBroadcastUnmarshalablePayload(t *testing.T) {
	h := NewHub()
	// Channels cannot be marshaled; the event is dropped, not fatal.
	h.Broadcast(EventIncidentCreated, make(chan int))
}

func TestRemoveNonexistent(t *testing.T) {
	h := NewHub()
	c := &conn{cancel: func() {}}
	h.remove(c)
	if got := h.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", got)
	}
}
