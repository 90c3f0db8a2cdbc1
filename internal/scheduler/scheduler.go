package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/metrics"
	"github.com/corkboard-app/corkboard/internal/notes"
)

// Priority orders durable work. High is drained to exhaustion before medium,
// medium before low; sustained high-priority load starving the lower tiers is
// accepted behavior.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Operation is one deferred durable mutation.
type Operation func(ctx context.Context) error

// PositionFlusher receives the coalesced position batch.
type PositionFlusher interface {
	SavePositions(ctx context.Context, updates map[string]notes.PositionUpdate) error
}

const (
	defaultOpTimeout      = 15 * time.Second
	defaultCoalesceWindow = time.Second
	defaultMaxEntryAge    = 10 * time.Minute
)

var errMissingFlusher = errors.New("position flusher is required")

// Config configures the write-back scheduler.
type Config struct {
	Flusher        PositionFlusher
	Logger         *zap.Logger
	Clock          func() time.Time
	OpTimeout      time.Duration
	CoalesceWindow time.Duration
	MaxEntryAge    time.Duration
	Metrics        *metrics.Metrics
}

type entry struct {
	op         Operation
	enqueuedAt time.Time
}

// Scheduler is the priority-tiered, coalescing write-back queue. It is the
// single writer to the durable backend: exactly one drain loop runs at a
// time, and work arriving after the loop's last emptiness check is picked up
// by the next Enqueue starting a fresh pass.
type Scheduler struct {
	flusher        PositionFlusher
	logger         *zap.Logger
	clock          func() time.Time
	opTimeout      time.Duration
	coalesceWindow time.Duration
	maxEntryAge    time.Duration
	metrics        *metrics.Metrics

	mu         sync.Mutex
	queues     [3][]entry
	draining   bool
	pending    map[string]notes.PositionUpdate
	flushTimer *time.Timer
}

// New validates the configuration and returns a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Flusher == nil {
		return nil, fmt.Errorf("scheduler.new.missing_flusher: %w", errMissingFlusher)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	coalesceWindow := cfg.CoalesceWindow
	if coalesceWindow <= 0 {
		coalesceWindow = defaultCoalesceWindow
	}
	maxEntryAge := cfg.MaxEntryAge
	if maxEntryAge <= 0 {
		maxEntryAge = defaultMaxEntryAge
	}

	return &Scheduler{
		flusher:        cfg.Flusher,
		logger:         logger,
		clock:          clock,
		opTimeout:      opTimeout,
		coalesceWindow: coalesceWindow,
		maxEntryAge:    maxEntryAge,
		metrics:        cfg.Metrics,
		pending:        make(map[string]notes.PositionUpdate),
	}, nil
}

// Enqueue appends the operation to its tier and kicks the drain loop if idle.
func (s *Scheduler) Enqueue(op Operation, priority Priority) {
	if op == nil {
		return
	}
	if priority < PriorityHigh || priority > PriorityLow {
		priority = PriorityMedium
	}

	s.mu.Lock()
	s.queues[priority] = append(s.queues[priority], entry{op: op, enqueuedAt: s.clock()})
	s.updateDepthLocked()
	shouldStart := !s.draining
	if shouldStart {
		s.draining = true
	}
	s.mu.Unlock()

	if shouldStart {
		go s.drain()
	}
}

// CoalescePosition stages the latest coordinates for the note. All staged
// updates are flushed together in one low-priority durable write once the
// coalescing window elapses.
func (s *Scheduler) CoalescePosition(noteID string, x, y float64) {
	if noteID == "" {
		return
	}

	s.mu.Lock()
	s.pending[noteID] = notes.PositionUpdate{
		NoteID:    noteID,
		X:         x,
		Y:         y,
		Timestamp: s.clock().UnixMilli(),
	}
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.coalesceWindow, s.FlushPositions)
	}
	s.mu.Unlock()
}

// FlushPositions enqueues one low-priority write carrying every staged
// position update. Called by the coalescing timer and on shutdown.
func (s *Scheduler) FlushPositions() {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[string]notes.PositionUpdate)
	s.mu.Unlock()

	s.Enqueue(func(ctx context.Context) error {
		return s.flusher.SavePositions(ctx, batch)
	}, PriorityLow)
}

// PruneStale drops queued entries older than the staleness bound. A mutation
// that has waited that long is assumed superseded.
func (s *Scheduler) PruneStale() int {
	cutoff := s.clock().Add(-s.maxEntryAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for tier := range s.queues {
		kept := s.queues[tier][:0]
		for _, item := range s.queues[tier] {
			if item.enqueuedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		s.queues[tier] = kept
	}
	if dropped > 0 {
		s.updateDepthLocked()
		s.logger.Info("stale queued operations dropped", zap.Int("count", dropped))
	}
	return dropped
}

// Depths reports the pending entries per tier plus staged position updates.
func (s *Scheduler) Depths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"high":            len(s.queues[PriorityHigh]),
		"medium":          len(s.queues[PriorityMedium]),
		"low":             len(s.queues[PriorityLow]),
		"stagedPositions": len(s.pending),
	}
}

// Draining reports whether a drain pass is in flight.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// WaitIdle blocks until every queue is empty and no drain pass is running, or
// the context expires. Intended for shutdown and tests.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close flushes staged positions and waits for the queues to drain.
func (s *Scheduler) Close(ctx context.Context) error {
	s.FlushPositions()
	return s.WaitIdle(ctx)
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining || len(s.pending) > 0 {
		return false
	}
	for tier := range s.queues {
		if len(s.queues[tier]) > 0 {
			return false
		}
	}
	return true
}

// drain pops in priority order until every tier is empty. Scanning from the
// high tier on each iteration re-checks for newly arrived high-priority work
// before lower tiers advance.
func (s *Scheduler) drain() {
	for {
		item, priority, ok := s.pop()
		if !ok {
			s.mu.Lock()
			if s.emptyLocked() {
				s.draining = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			continue
		}
		s.run(item, priority)
	}
}

func (s *Scheduler) pop() (entry, Priority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tier := PriorityHigh; tier <= PriorityLow; tier++ {
		if len(s.queues[tier]) == 0 {
			continue
		}
		item := s.queues[tier][0]
		s.queues[tier] = s.queues[tier][1:]
		s.updateDepthLocked()
		return item, tier, true
	}
	return entry{}, PriorityHigh, false
}

func (s *Scheduler) run(item entry, priority Priority) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.DurableWrites.Inc()
	}
	if err := item.op(ctx); err != nil {
		if s.metrics != nil {
			s.metrics.DurableFailures.Inc()
		}
		s.logger.Error("durable operation failed",
			zap.String("operation", "scheduler.drain"),
			zap.String("priority", priority.String()),
			zap.Duration("queued_for", s.clock().Sub(item.enqueuedAt)),
			zap.Error(err))
	}
}

func (s *Scheduler) emptyLocked() bool {
	for tier := range s.queues {
		if len(s.queues[tier]) > 0 {
			return false
		}
	}
	return true
}

func (s *Scheduler) updateDepthLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueDepth.WithLabelValues("high").Set(float64(len(s.queues[PriorityHigh])))
	s.metrics.QueueDepth.WithLabelValues("medium").Set(float64(len(s.queues[PriorityMedium])))
	s.metrics.QueueDepth.WithLabelValues("low").Set(float64(len(s.queues[PriorityLow])))
}
