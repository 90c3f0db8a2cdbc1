// Package reconcile implements the client side of the sync protocol: a full
// collection received in a sync_response or notes_loaded message is applied
// as the authoritative note set.
package reconcile

import (
	"github.com/corkboard-app/corkboard/internal/notes"
)

// Changes summarizes what applying a server collection did to the local set,
// by note id. Useful for clients that animate additions and removals.
type Changes struct {
	Added   []string
	Removed []string
	Updated []string
}

// Empty reports whether the application was a no-op.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// Apply reconciles the local set against the server's collection: local notes
// absent from the server are dropped, server notes absent locally are added,
// and notes present in both take the server's fields wholesale (last-writer-
// wins, no merge). The result follows server order. Applying the same server
// collection twice yields the same state and an empty change set the second
// time.
func Apply(local, server []notes.Note) ([]notes.Note, Changes) {
	localByID := make(map[string]notes.Note, len(local))
	for _, note := range local {
		localByID[note.ID] = note
	}

	var changes Changes
	result := make([]notes.Note, 0, len(server))
	serverIDs := make(map[string]struct{}, len(server))
	for _, note := range server {
		serverIDs[note.ID] = struct{}{}
		result = append(result, note)

		existing, ok := localByID[note.ID]
		if !ok {
			changes.Added = append(changes.Added, note.ID)
			continue
		}
		if existing != note {
			changes.Updated = append(changes.Updated, note.ID)
		}
	}

	for _, note := range local {
		if _, ok := serverIDs[note.ID]; !ok {
			changes.Removed = append(changes.Removed, note.ID)
		}
	}

	return result, changes
}
