package server

import (
	"testing"
	"time"
)

func TestBroadcastReachesAllConnectedSessions(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	hub := NewHub(registry, nil, nil)

	conns := []*fakeConn{{}, {}, {}}
	for _, conn := range conns {
		registry.Register(conn)
	}

	hub.Broadcast(newUserJoinedEvent(Identity{ID: "u1", Name: "Ana"}), "")

	for i, conn := range conns {
		if conn.sentCount() != 1 {
			t.Fatalf("conn %d expected 1 event, got %d", i, conn.sentCount())
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	hub := NewHub(registry, nil, nil)

	senderConn := &fakeConn{}
	sender := registry.Register(senderConn)
	otherConn := &fakeConn{}
	registry.Register(otherConn)

	hub.Broadcast(newUserJoinedEvent(Identity{ID: "u1"}), sender.ID())

	if senderConn.sentCount() != 0 {
		t.Fatalf("excluded sender must not receive the event")
	}
	if otherConn.sentCount() != 1 {
		t.Fatalf("other session should receive the event")
	}
}

func TestBroadcastSurvivesOneFailingSend(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	hub := NewHub(registry, nil, nil)

	good1 := &fakeConn{}
	registry.Register(good1)
	bad := &fakeConn{failSend: true}
	failing := registry.Register(bad)
	good2 := &fakeConn{}
	registry.Register(good2)

	hub.Broadcast(newUserJoinedEvent(Identity{ID: "u1"}), "")

	if good1.sentCount() != 1 || good2.sentCount() != 1 {
		t.Fatalf("healthy sessions must still receive the event")
	}

	// Cleanup runs asynchronously; exactly one unregistration happens.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Count() != 2 {
		t.Fatalf("failed session should be cleaned up, registry has %d", registry.Count())
	}
	if _, existed := registry.Unregister(failing.ID()); existed {
		t.Fatalf("failed session should already be unregistered")
	}
}

func TestBroadcastCleanupAnnouncesDeparture(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	hub := NewHub(registry, nil, nil)

	bad := &fakeConn{failSend: true}
	failing := registry.Register(bad)
	registry.SetIdentity(failing.ID(), Identity{ID: "u9", Name: "Flaky"})
	watcherConn := &fakeConn{}
	registry.Register(watcherConn)

	hub.Broadcast(newUserJoinedEvent(Identity{ID: "u1"}), "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if watcherConn.sentCount() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := watcherConn.decoded(t)
	if len(events) < 2 {
		t.Fatalf("expected join plus user_left, got %d events", len(events))
	}
	last := events[len(events)-1]
	if last["type"] != "user_left" {
		t.Fatalf("expected user_left for the failed session, got %v", last)
	}
}
