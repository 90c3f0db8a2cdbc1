package reconcile

import (
	"reflect"
	"testing"

	"github.com/corkboard-app/corkboard/internal/notes"
)

func TestApplyAddsServerOnlyNotes(t *testing.T) {
	server := []notes.Note{{ID: "a"}, {ID: "b"}}

	result, changes := Apply(nil, server)
	if len(result) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(result))
	}
	if len(changes.Added) != 2 {
		t.Fatalf("expected 2 additions, got %v", changes.Added)
	}
}

func TestApplyRemovesLocalOnlyNotes(t *testing.T) {
	local := []notes.Note{{ID: "a"}, {ID: "stale"}}
	server := []notes.Note{{ID: "a"}}

	result, changes := Apply(local, server)
	if len(result) != 1 || result[0].ID != "a" {
		t.Fatalf("expected only server notes to survive, got %+v", result)
	}
	if !reflect.DeepEqual(changes.Removed, []string{"stale"}) {
		t.Fatalf("expected stale removal, got %v", changes.Removed)
	}
}

func TestApplyTakesServerFieldsWholesale(t *testing.T) {
	local := []notes.Note{{ID: "a", X: 1, Y: 1, Text: "local edit"}}
	server := []notes.Note{{ID: "a", X: 50, Y: 60, Text: "server wins"}}

	result, changes := Apply(local, server)
	if result[0].X != 50 || result[0].Text != "server wins" {
		t.Fatalf("expected server fields applied, got %+v", result[0])
	}
	if !reflect.DeepEqual(changes.Updated, []string{"a"}) {
		t.Fatalf("expected update recorded, got %v", changes.Updated)
	}
}

func TestApplyPreservesServerOrder(t *testing.T) {
	local := []notes.Note{{ID: "c"}, {ID: "a"}}
	server := []notes.Note{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	result, _ := Apply(local, server)
	ids := []string{result[0].ID, result[1].ID, result[2].ID}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("expected server order, got %v", ids)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	local := []notes.Note{{ID: "a", X: 1}, {ID: "stale"}}
	server := []notes.Note{{ID: "a", X: 2}, {ID: "b"}}

	once, _ := Apply(local, server)
	twice, changes := Apply(once, server)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("re-applying the same response must not change state:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if !changes.Empty() {
		t.Fatalf("second application should report no changes, got %+v", changes)
	}
}

func TestApplyEmptyServerClearsLocal(t *testing.T) {
	local := []notes.Note{{ID: "a"}}

	result, changes := Apply(local, nil)
	if len(result) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if !reflect.DeepEqual(changes.Removed, []string{"a"}) {
		t.Fatalf("expected removal of a, got %v", changes.Removed)
	}
}
