package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/corkboard-app/corkboard/internal/notes"
	"github.com/corkboard-app/corkboard/internal/scheduler"
	"github.com/corkboard-app/corkboard/internal/storage"
)

type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	failSend bool
	closed   bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("connection reset")
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	c.sent = append(c.sent, copied)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// decoded unmarshals every payload sent so far.
func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]map[string]any, 0, len(c.sent))
	for _, payload := range c.sent {
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("sent payload should decode: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func (c *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	events := c.decoded(t)
	if len(events) == 0 {
		t.Fatalf("expected at least one sent event")
	}
	return events[len(events)-1]
}

// testServer bundles a fully wired protocol stack over an in-memory store.
type testServer struct {
	registry *Registry
	hub      *Hub
	catalog  *storage.Catalog
	sched    *scheduler.Scheduler
	protocol *Protocol
	store    *storage.MemoryStore
	now      *time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	store := storage.NewMemoryStore()
	catalog, err := storage.NewCatalog(storage.CatalogConfig{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A long window keeps the coalescing timer out of tests; they flush
	// explicitly.
	sched, err := scheduler.New(scheduler.Config{Flusher: catalog, CoalesceWindow: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	registry := NewRegistry(RegistryConfig{Clock: clock})
	hub := NewHub(registry, nil, nil)

	protocol, err := NewProtocol(ProtocolConfig{
		Registry:  registry,
		Hub:       hub,
		Catalog:   catalog,
		Scheduler: sched,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &testServer{
		registry: registry,
		hub:      hub,
		catalog:  catalog,
		sched:    sched,
		protocol: protocol,
		store:    store,
		now:      &now,
	}
}

func (ts *testServer) drain(t *testing.T) {
	t.Helper()
	ts.sched.FlushPositions()
	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	if err := ts.sched.WaitIdle(ctx); err != nil {
		t.Fatalf("scheduler did not drain: %v", err)
	}
	// Durable reads in assertions must see the backend, not the cache.
	ts.catalog.Invalidate()
}

func (ts *testServer) connect(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	return ts.registry.Register(conn), conn
}

func (ts *testServer) authenticate(t *testing.T, session *Session, conn *fakeConn, id, name string) {
	t.Helper()
	payload := `{"type":"auth","user":{"id":"` + id + `","name":"` + name + `"}}`
	ts.protocol.HandleMessage(session, []byte(payload))
	last := conn.lastEvent(t)
	if last["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %v", last)
	}
}

func (ts *testServer) durableNotes(t *testing.T) []notes.Note {
	t.Helper()
	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	return ts.catalog.LoadAll(ctx)
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}
