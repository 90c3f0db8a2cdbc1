package notes

// MaxNotes caps the durable collection. Oldest-inserted entries are evicted
// first once the cap is reached.
const MaxNotes = 1000

// Note is one sticky note on the shared board. Identity is ID; every other
// field is mutable under last-writer-wins.
type Note struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Color       string  `json:"color"`
	Text        string  `json:"text"`
	Drawing     string  `json:"drawing,omitempty"`
	Author      string  `json:"author"`
	AuthorID    string  `json:"authorId"`
	Rotation    float64 `json:"rotation"`
	Timestamp   int64   `json:"timestamp"`
	LastUpdated int64   `json:"lastUpdated,omitempty"`
}

// PositionUpdate carries the latest coordinates for one note.
type PositionUpdate struct {
	NoteID    string
	X         float64
	Y         float64
	Timestamp int64
}

// Append adds note to the collection, evicting from the front when the result
// would exceed max. Insertion order is preserved.
func Append(collection []Note, note Note, max int) []Note {
	if max <= 0 {
		max = MaxNotes
	}
	updated := append(collection, note)
	if len(updated) > max {
		updated = updated[len(updated)-max:]
	}
	return updated
}

// ApplyPositions sets x/y/lastUpdated on every note matched by id and reports
// whether the collection changed. Updates for unknown ids are ignored.
func ApplyPositions(collection []Note, updates map[string]PositionUpdate) bool {
	changed := false
	for i := range collection {
		update, ok := updates[collection[i].ID]
		if !ok {
			continue
		}
		collection[i].X = update.X
		collection[i].Y = update.Y
		collection[i].LastUpdated = update.Timestamp
		changed = true
	}
	return changed
}

// Remove filters the note with the given id out of the collection, reporting
// whether anything was removed.
func Remove(collection []Note, id string) ([]Note, bool) {
	filtered := make([]Note, 0, len(collection))
	removed := false
	for _, note := range collection {
		if note.ID == id {
			removed = true
			continue
		}
		filtered = append(filtered, note)
	}
	return filtered, removed
}
