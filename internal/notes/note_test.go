package notes

import (
	"fmt"
	"testing"
)

func TestAppendEvictsOldestBeyondCap(t *testing.T) {
	var collection []Note
	for i := 0; i < 7; i++ {
		collection = Append(collection, Note{ID: fmt.Sprintf("note-%d", i)}, 5)
	}

	if len(collection) != 5 {
		t.Fatalf("expected collection capped at 5, got %d", len(collection))
	}
	if collection[0].ID != "note-2" {
		t.Fatalf("expected oldest surviving note to be note-2, got %s", collection[0].ID)
	}
	if collection[4].ID != "note-6" {
		t.Fatalf("expected newest note last, got %s", collection[4].ID)
	}
}

func TestAppendDefaultsCap(t *testing.T) {
	var collection []Note
	for i := 0; i < MaxNotes+10; i++ {
		collection = Append(collection, Note{ID: fmt.Sprintf("note-%d", i)}, 0)
	}

	if len(collection) != MaxNotes {
		t.Fatalf("expected default cap %d, got %d", MaxNotes, len(collection))
	}
	if collection[0].ID != "note-10" {
		t.Fatalf("expected FIFO eviction, first id %s", collection[0].ID)
	}
}

func TestApplyPositionsUpdatesMatchingNotes(t *testing.T) {
	collection := []Note{
		{ID: "a", X: 1, Y: 1},
		{ID: "b", X: 2, Y: 2},
	}
	updates := map[string]PositionUpdate{
		"b":       {NoteID: "b", X: 30, Y: 40, Timestamp: 1700000000000},
		"missing": {NoteID: "missing", X: 9, Y: 9, Timestamp: 1700000000000},
	}

	if !ApplyPositions(collection, updates) {
		t.Fatalf("expected a change to be reported")
	}
	if collection[0].X != 1 || collection[0].Y != 1 {
		t.Fatalf("unmatched note should be untouched: %+v", collection[0])
	}
	if collection[1].X != 30 || collection[1].Y != 40 {
		t.Fatalf("expected position applied, got %+v", collection[1])
	}
	if collection[1].LastUpdated != 1700000000000 {
		t.Fatalf("expected lastUpdated stamped, got %d", collection[1].LastUpdated)
	}
}

func TestApplyPositionsReportsNoChangeForUnknownIDs(t *testing.T) {
	collection := []Note{{ID: "a"}}
	updates := map[string]PositionUpdate{"z": {NoteID: "z", X: 1, Y: 2}}

	if ApplyPositions(collection, updates) {
		t.Fatalf("expected no change for unknown ids")
	}
}

func TestRemoveFiltersByID(t *testing.T) {
	collection := []Note{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	filtered, removed := Remove(collection, "b")
	if !removed {
		t.Fatalf("expected removal to be reported")
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 notes after removal, got %d", len(filtered))
	}
	if filtered[0].ID != "a" || filtered[1].ID != "c" {
		t.Fatalf("unexpected order after removal: %+v", filtered)
	}
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	collection := []Note{{ID: "a"}}

	filtered, removed := Remove(collection, "nope")
	if removed {
		t.Fatalf("expected no removal for unknown id")
	}
	if len(filtered) != 1 {
		t.Fatalf("collection length should be unchanged, got %d", len(filtered))
	}
}

func TestUUIDProviderProducesDistinctIDs(t *testing.T) {
	provider := NewUUIDProvider()

	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" || first == second {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", first, second)
	}
}
