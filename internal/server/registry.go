package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/metrics"
)

const (
	defaultMaxIdle       = 30 * time.Minute
	defaultPruneInterval = 5 * time.Minute
)

// Identity is the client-supplied user bound to a session on auth. It is
// never checked against an external provider.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is one live connection plus its bound identity and liveness
// metadata. State runs unauthenticated -> authenticated -> disconnected;
// disconnected is terminal.
type Session struct {
	id   string
	conn Conn

	mu        sync.Mutex
	identity  *Identity
	lastSeen  time.Time
	connected bool
}

// ID returns the opaque session token.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the bound identity, or nil before authentication.
func (s *Session) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Connected reports whether the session is still live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastSeen returns the time of the last inbound activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Send forwards data over the session transport.
func (s *Session) Send(data []byte) error {
	return s.conn.Send(data)
}

func (s *Session) bindIdentity(identity Identity) {
	s.mu.Lock()
	if s.identity == nil {
		s.identity = &identity
	}
	s.mu.Unlock()
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastSeen = at
	s.mu.Unlock()
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// SessionInfo is a diagnostic view of one session.
type SessionInfo struct {
	ID        string
	User      string
	LastSeen  time.Time
	Connected bool
}

// RegistryConfig configures the session registry.
type RegistryConfig struct {
	Logger        *zap.Logger
	Clock         func() time.Time
	MaxIdle       time.Duration
	PruneInterval time.Duration
	Metrics       *metrics.Metrics
}

// Registry tracks live sessions. All mutations go through its mutex; reads
// hand out snapshots so broadcasts never iterate the live map.
type Registry struct {
	logger        *zap.Logger
	clock         func() time.Time
	maxIdle       time.Duration
	pruneInterval time.Duration
	metrics       *metrics.Metrics

	mu        sync.RWMutex
	sessions  map[string]*Session
	lastPrune time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = defaultPruneInterval
	}

	return &Registry{
		logger:        logger,
		clock:         clock,
		maxIdle:       maxIdle,
		pruneInterval: pruneInterval,
		metrics:       cfg.Metrics,
		sessions:      make(map[string]*Session),
	}
}

// Register creates an unauthenticated session for the connection.
func (r *Registry) Register(conn Conn) *Session {
	session := &Session{
		id:        "client_" + uuid.NewString(),
		conn:      conn,
		lastSeen:  r.clock(),
		connected: true,
	}

	r.mu.Lock()
	r.sessions[session.id] = session
	count := len(r.sessions)
	r.mu.Unlock()

	r.updateGauge(count)
	r.logger.Debug("session registered", zap.String("session_id", session.id))
	return session
}

// Touch records inbound activity for the session.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	session := r.sessions[sessionID]
	r.mu.RUnlock()
	if session != nil {
		session.touch(r.clock())
	}
}

// SetIdentity binds the client-supplied identity to the session. Only the
// first authentication message takes effect.
func (r *Registry) SetIdentity(sessionID string, identity Identity) bool {
	r.mu.RLock()
	session := r.sessions[sessionID]
	r.mu.RUnlock()
	if session == nil {
		return false
	}
	session.bindIdentity(identity)
	return true
}

// Unregister marks the session disconnected and removes it. Returns the
// bound identity (if any) so the caller can announce the departure, and
// whether the session was still present; repeated calls are no-ops.
func (r *Registry) Unregister(sessionID string) (*Identity, bool) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	session.markDisconnected()
	r.updateGauge(count)
	r.logger.Debug("session unregistered", zap.String("session_id", sessionID))
	return session.Identity(), true
}

// Snapshot returns the current sessions without holding the lock for the
// duration of a broadcast.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	return snapshot
}

// Count reports the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// MaybePrune runs a stale-session sweep if one has not run recently. It is
// invoked opportunistically on new connections rather than on a timer.
// Returns the removed sessions and whether the sweep ran.
func (r *Registry) MaybePrune() ([]*Session, bool) {
	now := r.clock()

	r.mu.Lock()
	if !r.lastPrune.IsZero() && now.Sub(r.lastPrune) < r.pruneInterval {
		r.mu.Unlock()
		return nil, false
	}
	r.lastPrune = now
	r.mu.Unlock()

	return r.PruneStale(), true
}

// PruneStale removes sessions idle past the liveness threshold, closing their
// transports. Returns the removed sessions.
func (r *Registry) PruneStale() []*Session {
	cutoff := r.clock().Add(-r.maxIdle)

	r.mu.Lock()
	var stale []*Session
	for id, session := range r.sessions {
		if session.LastSeen().Before(cutoff) || !session.Connected() {
			stale = append(stale, session)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, session := range stale {
		session.markDisconnected()
		if err := session.conn.Close(); err != nil {
			r.logger.Debug("stale session close failed",
				zap.String("session_id", session.ID()),
				zap.Error(err))
		}
	}

	if len(stale) > 0 {
		r.updateGauge(count)
		r.logger.Info("stale sessions pruned", zap.Int("count", len(stale)))
	}
	return stale
}

// DebugSessions returns a diagnostic view of every session.
func (r *Registry) DebugSessions() []SessionInfo {
	sessions := r.Snapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		name := "anonymous"
		if identity := session.Identity(); identity != nil {
			name = identity.Name
		}
		infos = append(infos, SessionInfo{
			ID:        session.ID(),
			User:      name,
			LastSeen:  session.LastSeen(),
			Connected: session.Connected(),
		})
	}
	return infos
}

func (r *Registry) updateGauge(count int) {
	if r.metrics != nil {
		r.metrics.ConnectedSessions.Set(float64(count))
	}
}
