package server

import (
	"encoding/json"
	"strings"

	"github.com/corkboard-app/corkboard/internal/notes"
)

// MessageKind is the canonical message type after ingress normalization.
type MessageKind string

const (
	KindAuth        MessageKind = "auth"
	KindLoadNotes   MessageKind = "load_notes"
	KindSyncRequest MessageKind = "sync_request"
	KindCreateNote  MessageKind = "create_note"
	KindUpdateNote  MessageKind = "update_note"
	KindDeleteNote  MessageKind = "delete_note"
	KindPing        MessageKind = "ping"
	KindUnknown     MessageKind = "unknown"
)

// kindAliases is the single translation table from wire kinds (verbose or
// shorthand) to canonical kinds.
var kindAliases = map[string]MessageKind{
	"auth":         KindAuth,
	"load_notes":   KindLoadNotes,
	"sync_request": KindSyncRequest,
	"create_note":  KindCreateNote,
	"update_note":  KindUpdateNote,
	"u":            KindUpdateNote,
	"delete_note":  KindDeleteNote,
	"ping":         KindPing,
}

// envelope is the raw inbound message. Verbose and shorthand keys coexist on
// the wire; normalization collapses them before dispatch. Note fields appear
// either nested under "note" or at the top level depending on the client.
type envelope struct {
	Type string `json:"type"`
	T    string `json:"t"`

	User *Identity   `json:"user"`
	Note *notes.Note `json:"note"`

	NoteID string `json:"noteId"`
	ID     string `json:"id"`

	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Color    string   `json:"color"`
	Text     string   `json:"text"`
	Drawing  string   `json:"drawing"`
	Rotation float64  `json:"rotation"`

	Timestamp int64 `json:"timestamp"`
	TS        int64 `json:"ts"`

	ClientID string `json:"clientId"`
	C        string `json:"c"`
}

// Message is the canonical internal message, one tagged variant per kind.
type Message struct {
	Kind      MessageKind
	RawKind   string
	User      *Identity
	Note      *notes.Note
	NoteID    string
	X         float64
	Y         float64
	HasX      bool
	HasY      bool
	Timestamp int64
	ClientID  string
}

// normalizeMessage parses and canonicalizes one inbound payload.
func normalizeMessage(data []byte) (Message, error) {
	var raw envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, err
	}

	rawKind := raw.Type
	if rawKind == "" {
		rawKind = raw.T
	}
	kind, ok := kindAliases[strings.TrimSpace(rawKind)]
	if !ok {
		kind = KindUnknown
	}

	msg := Message{
		Kind:      kind,
		RawKind:   rawKind,
		User:      raw.User,
		NoteID:    raw.NoteID,
		Timestamp: raw.Timestamp,
		ClientID:  raw.ClientID,
	}
	if msg.NoteID == "" {
		msg.NoteID = raw.ID
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = raw.TS
	}
	if msg.ClientID == "" {
		msg.ClientID = raw.C
	}
	if raw.X != nil {
		msg.X = *raw.X
		msg.HasX = true
	}
	if raw.Y != nil {
		msg.Y = *raw.Y
		msg.HasY = true
	}

	if kind == KindCreateNote {
		msg.Note = noteFromEnvelope(raw)
	}

	return msg, nil
}

func noteFromEnvelope(raw envelope) *notes.Note {
	if raw.Note != nil {
		return raw.Note
	}
	note := &notes.Note{
		ID:       raw.ID,
		Color:    raw.Color,
		Text:     raw.Text,
		Drawing:  raw.Drawing,
		Rotation: raw.Rotation,
	}
	if raw.X != nil {
		note.X = *raw.X
	}
	if raw.Y != nil {
		note.Y = *raw.Y
	}
	return note
}

// Outbound event shapes. Everything uses the verbose encoding except the
// high-frequency position broadcast, which uses the ultra-compact form.

type userEvent struct {
	Type string   `json:"type"`
	User Identity `json:"user"`
}

func newUserJoinedEvent(user Identity) userEvent {
	return userEvent{Type: "user_joined", User: user}
}

func newUserLeftEvent(user Identity) userEvent {
	return userEvent{Type: "user_left", User: user}
}

type authSuccessEvent struct {
	Type      string   `json:"type"`
	User      Identity `json:"user"`
	Timestamp int64    `json:"timestamp"`
}

type notesLoadedEvent struct {
	Type      string       `json:"type"`
	Notes     []notes.Note `json:"notes"`
	Timestamp int64        `json:"timestamp"`
}

type syncResponseEvent struct {
	Type             string       `json:"type"`
	Notes            []notes.Note `json:"notes"`
	RequestTimestamp int64        `json:"requestTimestamp"`
	ServerTimestamp  int64        `json:"serverTimestamp"`
}

type noteCreatedEvent struct {
	Type      string     `json:"type"`
	Note      notes.Note `json:"note"`
	Timestamp int64      `json:"timestamp"`
}

type noteDeletedEvent struct {
	Type      string `json:"type"`
	NoteID    string `json:"noteId"`
	Timestamp int64  `json:"timestamp"`
}

// notePositionEvent is the compact form: same logical note_updated event,
// minified keys for wire size only.
type notePositionEvent struct {
	T  string  `json:"t"`
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	TS int64   `json:"ts"`
	C  string  `json:"c"`
}

type pongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
