package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/notes"
)

const (
	// NotesDocumentKey names the single document holding the full collection.
	NotesDocumentKey = "notes.json"
	backupKeyPrefix  = "notes/"

	defaultCacheTTL = 30 * time.Second
)

var (
	errMissingStore = errors.New("blob store is required")
	noOpLogger      = zap.NewNop()
)

// notesDocument is the serialized layout of the durable document.
type notesDocument struct {
	Notes       []notes.Note `json:"notes"`
	LastUpdated int64        `json:"lastUpdated"`
}

// CatalogConfig configures the notes catalog.
type CatalogConfig struct {
	Store    BlobStore
	Logger   *zap.Logger
	Clock    func() time.Time
	MaxNotes int
	CacheTTL time.Duration
}

// Catalog owns the notes document and the per-note backup keys. It keeps a
// short-lived in-process cache of the last loaded collection and serves the
// last good snapshot when the backend misbehaves. All operations are
// best-effort; callers must not assume a returned error rolled anything back.
type Catalog struct {
	store    BlobStore
	logger   *zap.Logger
	clock    func() time.Time
	maxNotes int
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    []notes.Note
	cachedAt  time.Time
	haveCache bool
}

// NewCatalog validates the configuration and returns a catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Store == nil {
		return nil, newStoreError("storage.catalog.new", "missing_store", errMissingStore)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxNotes := cfg.MaxNotes
	if maxNotes <= 0 {
		maxNotes = notes.MaxNotes
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &Catalog{
		store:    cfg.Store,
		logger:   logger,
		clock:    clock,
		maxNotes: maxNotes,
		cacheTTL: cacheTTL,
	}, nil
}

// LoadAll returns the current collection. A fresh cache short-circuits the
// backend; an absent document yields an empty collection; any other failure
// falls back to the last good snapshot, else empty.
func (c *Catalog) LoadAll(ctx context.Context) []notes.Note {
	now := c.clock()

	c.mu.Lock()
	if c.haveCache && now.Sub(c.cachedAt) < c.cacheTTL {
		snapshot := copyNotes(c.cached)
		c.mu.Unlock()
		return snapshot
	}
	c.mu.Unlock()

	data, err := c.store.Get(ctx, NotesDocumentKey)
	if errors.Is(err, ErrKeyNotFound) {
		c.updateCache(nil, now)
		return nil
	}
	if err != nil {
		c.logger.Error("notes document load failed",
			zap.String("operation", "storage.catalog.load_all"),
			zap.Error(err))
		return c.lastGood()
	}

	var document notesDocument
	if err := json.Unmarshal(data, &document); err != nil {
		c.logger.Error("notes document decode failed",
			zap.String("operation", "storage.catalog.load_all"),
			zap.Error(err))
		return c.lastGood()
	}

	c.updateCache(document.Notes, now)
	return copyNotes(document.Notes)
}

// SaveNote appends the note to the durable collection, enforcing the cap, and
// writes the per-note backup key alongside the main document.
func (c *Catalog) SaveNote(ctx context.Context, note notes.Note) error {
	collection := c.LoadAll(ctx)
	updated := notes.Append(collection, note, c.maxNotes)

	if err := c.writeDocument(ctx, updated); err != nil {
		return newStoreError("storage.catalog.save_note", "document_write_failed", err)
	}

	backup, err := json.Marshal(note)
	if err == nil {
		err = c.store.Put(ctx, backupKey(note.ID), backup)
	}
	if err != nil {
		// The main document carries the note; a lost backup is tolerable.
		c.logger.Warn("note backup write failed",
			zap.String("operation", "storage.catalog.save_note"),
			zap.String("note_id", note.ID),
			zap.Error(err))
	}

	return nil
}

// SavePositions applies coalesced position updates and rewrites the document
// once. Updates for ids no longer in the collection are dropped silently.
func (c *Catalog) SavePositions(ctx context.Context, updates map[string]notes.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	collection := c.LoadAll(ctx)
	if !notes.ApplyPositions(collection, updates) {
		return nil
	}

	if err := c.writeDocument(ctx, collection); err != nil {
		return newStoreError("storage.catalog.save_positions", "document_write_failed", err)
	}
	return nil
}

// DeleteNote removes the note from the document and deletes its backup key.
// Reports whether the collection changed.
func (c *Catalog) DeleteNote(ctx context.Context, id string) (bool, error) {
	collection := c.LoadAll(ctx)
	filtered, removed := notes.Remove(collection, id)
	if !removed {
		return false, nil
	}

	if err := c.writeDocument(ctx, filtered); err != nil {
		return false, newStoreError("storage.catalog.delete_note", "document_write_failed", err)
	}

	if err := c.store.Delete(ctx, backupKey(id)); err != nil {
		c.logger.Warn("note backup delete failed",
			zap.String("operation", "storage.catalog.delete_note"),
			zap.String("note_id", id),
			zap.Error(err))
	}

	return true, nil
}

// Ping probes the backend with a read of the notes document. An absent
// document is healthy; any other failure is not.
func (c *Catalog) Ping(ctx context.Context) error {
	_, err := c.store.Get(ctx, NotesDocumentKey)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return newStoreError("storage.catalog.ping", "backend_unreachable", err)
	}
	return nil
}

// Invalidate drops the cache so the next read hits the backend.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.haveCache = false
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

// CacheAge reports how old the cached snapshot is, for diagnostics. The
// second return is false when no snapshot is held.
func (c *Catalog) CacheAge() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveCache {
		return 0, false
	}
	return c.clock().Sub(c.cachedAt), true
}

func (c *Catalog) writeDocument(ctx context.Context, collection []notes.Note) error {
	now := c.clock()
	document := notesDocument{Notes: collection, LastUpdated: now.UnixMilli()}
	if document.Notes == nil {
		document.Notes = []notes.Note{}
	}

	data, err := json.Marshal(document)
	if err != nil {
		c.Invalidate()
		return err
	}
	if err := c.store.Put(ctx, NotesDocumentKey, data); err != nil {
		// A stale cache after a failed write would mask the divergence.
		c.Invalidate()
		return err
	}

	c.updateCache(collection, now)
	return nil
}

func (c *Catalog) updateCache(collection []notes.Note, at time.Time) {
	c.mu.Lock()
	c.cached = copyNotes(collection)
	c.cachedAt = at
	c.haveCache = true
	c.mu.Unlock()
}

func (c *Catalog) lastGood() []notes.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveCache {
		return nil
	}
	return copyNotes(c.cached)
}

func backupKey(id string) string {
	return backupKeyPrefix + id + ".json"
}

func copyNotes(collection []notes.Note) []notes.Note {
	if collection == nil {
		return nil
	}
	copied := make([]notes.Note, len(collection))
	copy(copied, collection)
	return copied
}
