package model

import "time"

// EntitySnapshot is an immutable capture of an entity's full state. No two
// snapshots of the same entity share a DataHash.
type EntitySnapshot struct {
	ID            int64          `json:"id"`
	EntityType    string         `json:"entity_type"`
	EntityID      int64          `json:"entity_id"`
	SchemaVersion string         `json:"schema_version"`
	Data          map[string]any `json:"data"`
	DataHash      string         `json:"data_hash"`
	SessionID     string         `json:"extraction_session_id"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ChangeUpdated is the only change type: an entity's first sighting writes a
// snapshot but no change record.
const ChangeUpdated = "updated"

// Field diff kinds.
const (
	DiffAdded    = "added"
	DiffModified = "modified"
	DiffRemoved  = "removed"
)

// FieldDiff records one field-level difference between two snapshots.
type FieldDiff struct {
	Old  any    `json:"old"`
	New  any    `json:"new"`
	Type string `json:"type"` // added, modified, removed
}

// EntityChange is the derived record linking two snapshots of an entity.
// Written only when the diff is non-empty.
type EntityChange struct {
	ID                 int64                `json:"id"`
	EntityType         string               `json:"entity_type"`
	EntityID           int64                `json:"entity_id"`
	ChangeType         string               `json:"change_type"`
	Diff               map[string]FieldDiff `json:"diff"`
	FieldsChanged      []string             `json:"fields_changed"`
	PreviousSnapshotID int64                `json:"previous_snapshot_id"`
	CurrentSnapshotID  int64                `json:"current_snapshot_id"`
	Summary            string               `json:"summary"`
	ChangeHash         string               `json:"change_hash"`
	SessionID          string               `json:"extraction_session_id"`
	CreatedAt          time.Time            `json:"created_at"`
}
