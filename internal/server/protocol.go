package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/notes"
	"github.com/corkboard-app/corkboard/internal/scheduler"
	"github.com/corkboard-app/corkboard/internal/storage"
)

var (
	errMissingRegistry  = errors.New("session registry is required")
	errMissingHub       = errors.New("broadcast hub is required")
	errMissingCatalog   = errors.New("notes catalog is required")
	errMissingScheduler = errors.New("write-back scheduler is required")
)

// ProtocolConfig wires the message dispatcher to its collaborators.
type ProtocolConfig struct {
	Registry   *Registry
	Hub        *Hub
	Catalog    *storage.Catalog
	Scheduler  *scheduler.Scheduler
	IDProvider notes.IDProvider
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Protocol dispatches normalized client messages, drives broadcasts, and
// enqueues durable writes. One instance serves every connection.
type Protocol struct {
	registry *Registry
	hub      *Hub
	catalog  *storage.Catalog
	sched    *scheduler.Scheduler
	ids      notes.IDProvider
	logger   *zap.Logger
	clock    func() time.Time
}

// NewProtocol validates the configuration and returns a dispatcher.
func NewProtocol(cfg ProtocolConfig) (*Protocol, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("server.protocol.new.missing_registry: %w", errMissingRegistry)
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("server.protocol.new.missing_hub: %w", errMissingHub)
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("server.protocol.new.missing_catalog: %w", errMissingCatalog)
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("server.protocol.new.missing_scheduler: %w", errMissingScheduler)
	}

	ids := cfg.IDProvider
	if ids == nil {
		ids = notes.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Protocol{
		registry: cfg.Registry,
		hub:      cfg.Hub,
		catalog:  cfg.Catalog,
		sched:    cfg.Scheduler,
		ids:      ids,
		logger:   logger,
		clock:    clock,
	}, nil
}

// HandleMessage processes one inbound payload for the session. Malformed
// payloads cost the sender an error reply and nothing else.
func (p *Protocol) HandleMessage(session *Session, data []byte) {
	p.registry.Touch(session.ID())

	msg, err := normalizeMessage(data)
	if err != nil {
		p.logger.Warn("malformed message dropped",
			zap.String("session_id", session.ID()),
			zap.Error(err))
		p.reply(session, errorEvent{Type: "error", Message: "message could not be parsed"})
		return
	}

	switch msg.Kind {
	case KindAuth:
		p.handleAuth(session, msg)
	case KindLoadNotes:
		p.handleLoadNotes(session)
	case KindSyncRequest:
		p.handleSyncRequest(session, msg)
	case KindCreateNote:
		p.handleCreateNote(session, msg)
	case KindUpdateNote:
		p.handleUpdateNote(session, msg)
	case KindDeleteNote:
		p.handleDeleteNote(session, msg)
	case KindPing:
		p.reply(session, pongEvent{Type: "pong", Timestamp: msg.Timestamp})
	default:
		p.logger.Info("unknown message kind ignored",
			zap.String("session_id", session.ID()),
			zap.String("kind", msg.RawKind))
	}
}

// HandleDisconnect tears the session down and announces the departure once.
func (p *Protocol) HandleDisconnect(session *Session) {
	identity, existed := p.registry.Unregister(session.ID())
	if existed && identity != nil {
		p.hub.Broadcast(newUserLeftEvent(*identity), session.ID())
	}
}

// RunMaintenance prunes stale sessions and stale queued operations. Gated by
// the registry's minimum sweep interval; called on each new connection.
func (p *Protocol) RunMaintenance() {
	pruned, ran := p.registry.MaybePrune()
	if !ran {
		return
	}
	for _, session := range pruned {
		if identity := session.Identity(); identity != nil {
			p.hub.Broadcast(newUserLeftEvent(*identity), session.ID())
		}
	}
	p.sched.PruneStale()
}

func (p *Protocol) handleAuth(session *Session, msg Message) {
	if msg.User == nil {
		p.reply(session, errorEvent{Type: "error", Message: "auth requires a user"})
		return
	}

	p.registry.SetIdentity(session.ID(), *msg.User)
	bound := session.Identity()

	p.hub.Broadcast(newUserJoinedEvent(*bound), session.ID())
	p.reply(session, authSuccessEvent{
		Type:      "auth_success",
		User:      *bound,
		Timestamp: p.clock().UnixMilli(),
	})
}

func (p *Protocol) handleLoadNotes(session *Session) {
	collection := p.catalog.LoadAll(context.Background())
	p.reply(session, notesLoadedEvent{
		Type:      "notes_loaded",
		Notes:     emptyIfNil(collection),
		Timestamp: p.clock().UnixMilli(),
	})
}

func (p *Protocol) handleSyncRequest(session *Session, msg Message) {
	collection := p.catalog.LoadAll(context.Background())
	p.reply(session, syncResponseEvent{
		Type:             "sync_response",
		Notes:            emptyIfNil(collection),
		RequestTimestamp: msg.Timestamp,
		ServerTimestamp:  p.clock().UnixMilli(),
	})
}

func (p *Protocol) handleCreateNote(session *Session, msg Message) {
	identity := session.Identity()
	if identity == nil {
		p.logger.Debug("create_note from unauthenticated session ignored",
			zap.String("session_id", session.ID()))
		return
	}
	if msg.Note == nil {
		p.reply(session, errorEvent{Type: "error", Message: "create_note requires a note"})
		return
	}

	note := *msg.Note
	if note.ID == "" {
		id, err := p.ids.NewID()
		if err != nil {
			p.logger.Error("note id generation failed",
				zap.String("operation", "server.protocol.create_note"),
				zap.Error(err))
			p.reply(session, errorEvent{Type: "error", Message: "note could not be created"})
			return
		}
		note.ID = "note_" + id
	}
	note.Author = identity.Name
	note.AuthorID = identity.ID
	note.Timestamp = p.clock().UnixMilli()

	// Broadcast first; durability happens behind the scheduler.
	p.hub.Broadcast(noteCreatedEvent{
		Type:      "note_created",
		Note:      note,
		Timestamp: note.Timestamp,
	}, "")

	p.sched.Enqueue(func(ctx context.Context) error {
		return p.catalog.SaveNote(ctx, note)
	}, scheduler.PriorityHigh)
}

func (p *Protocol) handleUpdateNote(session *Session, msg Message) {
	identity := session.Identity()
	if identity == nil {
		p.logger.Debug("update_note from unauthenticated session ignored",
			zap.String("session_id", session.ID()))
		return
	}
	if msg.NoteID == "" || !msg.HasX || !msg.HasY {
		p.reply(session, errorEvent{Type: "error", Message: "update_note requires id, x and y"})
		return
	}

	timestamp := msg.Timestamp
	if timestamp == 0 {
		timestamp = p.clock().UnixMilli()
	}
	clientID := msg.ClientID
	if clientID == "" {
		clientID = session.ID()
	}

	p.hub.Broadcast(notePositionEvent{
		T:  "u",
		ID: msg.NoteID,
		X:  msg.X,
		Y:  msg.Y,
		TS: timestamp,
		C:  clientID,
	}, session.ID())

	p.sched.CoalescePosition(msg.NoteID, msg.X, msg.Y)
}

func (p *Protocol) handleDeleteNote(session *Session, msg Message) {
	identity := session.Identity()
	if identity == nil {
		p.logger.Debug("delete_note from unauthenticated session ignored",
			zap.String("session_id", session.ID()))
		return
	}
	if msg.NoteID == "" {
		p.reply(session, errorEvent{Type: "error", Message: "delete_note requires a note id"})
		return
	}

	if !p.noteExists(msg.NoteID) {
		p.logger.Debug("delete_note for unknown id ignored",
			zap.String("note_id", msg.NoteID))
		return
	}

	p.hub.Broadcast(noteDeletedEvent{
		Type:      "note_deleted",
		NoteID:    msg.NoteID,
		Timestamp: p.clock().UnixMilli(),
	}, "")

	noteID := msg.NoteID
	p.sched.Enqueue(func(ctx context.Context) error {
		_, err := p.catalog.DeleteNote(ctx, noteID)
		return err
	}, scheduler.PriorityMedium)
}

func (p *Protocol) noteExists(id string) bool {
	for _, note := range p.catalog.LoadAll(context.Background()) {
		if note.ID == id {
			return true
		}
	}
	return false
}

func (p *Protocol) reply(session *Session, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("reply marshal failed",
			zap.String("operation", "server.protocol.reply"),
			zap.Error(err))
		return
	}
	if err := session.Send(data); err != nil {
		p.logger.Debug("reply send failed",
			zap.String("session_id", session.ID()),
			zap.Error(err))
	}
}

func emptyIfNil(collection []notes.Note) []notes.Note {
	if collection == nil {
		return []notes.Note{}
	}
	return collection
}
