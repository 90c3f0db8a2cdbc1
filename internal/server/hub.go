package server

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/metrics"
)

// Hub fans an event out to every connected session. Sends are synchronous and
// best-effort: one dead connection never blocks the rest, and failed sessions
// are cleaned up asynchronously so the fan-out never mutates the registry it
// is iterating.
type Hub struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewHub wires the hub to the registry.
func NewHub(registry *Registry, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{registry: registry, logger: logger, metrics: m}
}

// Broadcast serializes the event once and delivers it to every connected
// session except excludeSessionID (empty means nobody is excluded). There is
// no cross-session ordering and no delivery confirmation; periodic
// reconciliation is the correctness backstop.
func (h *Hub) Broadcast(event any, excludeSessionID string) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("broadcast payload marshal failed",
			zap.String("operation", "hub.broadcast"),
			zap.Error(err))
		return
	}

	var failed []*Session
	for _, session := range h.registry.Snapshot() {
		if session.ID() == excludeSessionID || !session.Connected() {
			continue
		}
		if err := session.Send(data); err != nil {
			if h.metrics != nil {
				h.metrics.DroppedSends.Inc()
			}
			h.logger.Debug("broadcast send failed",
				zap.String("session_id", session.ID()),
				zap.Error(err))
			failed = append(failed, session)
		}
	}

	if h.metrics != nil {
		h.metrics.BroadcastsTotal.Inc()
	}

	if len(failed) > 0 {
		go h.cleanupFailed(failed)
	}
}

func (h *Hub) cleanupFailed(failed []*Session) {
	for _, session := range failed {
		identity, existed := h.registry.Unregister(session.ID())
		if !existed {
			continue
		}
		_ = session.conn.Close()
		if identity != nil {
			h.Broadcast(newUserLeftEvent(*identity), session.ID())
		}
	}
}
