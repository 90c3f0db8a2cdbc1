package server

import (
	"testing"
)

func TestNormalizeVerboseUpdate(t *testing.T) {
	payload := `{"type":"update_note","noteId":"n1","x":15,"y":25,"timestamp":1700000000000,"clientId":"client_a"}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindUpdateNote {
		t.Fatalf("expected update_note, got %s", msg.Kind)
	}
	if msg.NoteID != "n1" || msg.X != 15 || msg.Y != 25 {
		t.Fatalf("unexpected fields: %+v", msg)
	}
	if msg.Timestamp != 1700000000000 || msg.ClientID != "client_a" {
		t.Fatalf("unexpected metadata: %+v", msg)
	}
}

func TestNormalizeShorthandUpdateResolvesToSameHandler(t *testing.T) {
	payload := `{"t":"u","id":"n1","x":16,"y":26,"ts":1700000000500,"c":"client_b"}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindUpdateNote {
		t.Fatalf("shorthand u must normalize to update_note, got %s", msg.Kind)
	}
	if msg.NoteID != "n1" {
		t.Fatalf("id shorthand should map to noteId, got %q", msg.NoteID)
	}
	if msg.Timestamp != 1700000000500 {
		t.Fatalf("ts shorthand should map to timestamp, got %d", msg.Timestamp)
	}
	if msg.ClientID != "client_b" {
		t.Fatalf("c shorthand should map to clientId, got %q", msg.ClientID)
	}
}

func TestNormalizeVerboseKeysWinOverShorthand(t *testing.T) {
	payload := `{"type":"delete_note","noteId":"verbose","id":"short"}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.NoteID != "verbose" {
		t.Fatalf("verbose key should win, got %q", msg.NoteID)
	}
}

func TestNormalizeCreateWithNestedNote(t *testing.T) {
	payload := `{"type":"create_note","note":{"id":"n1","x":10,"y":20,"color":"#FFEB3B","text":"hi"}}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Note == nil {
		t.Fatalf("expected note payload")
	}
	if msg.Note.ID != "n1" || msg.Note.Color != "#FFEB3B" {
		t.Fatalf("unexpected note: %+v", msg.Note)
	}
}

func TestNormalizeCreateWithTopLevelFields(t *testing.T) {
	payload := `{"type":"create_note","id":"n2","x":1,"y":2,"color":"#fff","text":"flat","rotation":3}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Note == nil {
		t.Fatalf("expected note assembled from top-level fields")
	}
	if msg.Note.ID != "n2" || msg.Note.X != 1 || msg.Note.Rotation != 3 {
		t.Fatalf("unexpected note: %+v", msg.Note)
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	msg, err := normalizeMessage([]byte(`{"type":"teleport"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", msg.Kind)
	}
	if msg.RawKind != "teleport" {
		t.Fatalf("raw kind should be preserved for logging, got %q", msg.RawKind)
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	if _, err := normalizeMessage([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestNormalizeZeroCoordinatesAreStillPresent(t *testing.T) {
	payload := `{"t":"u","id":"n1","x":0,"y":0}`

	msg, err := normalizeMessage([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.HasX || !msg.HasY {
		t.Fatalf("explicit zero coordinates must register as present")
	}
}
