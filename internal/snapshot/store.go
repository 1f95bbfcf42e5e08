package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/db"
	"github.com/sells-group/compintel/internal/model"
)

// Store persists snapshots and change records. Methods take a Querier so
// they run inside the orchestrator's per-entity transaction.
type Store struct{}

// NewStore returns a snapshot store.
func NewStore() *Store { return &Store{} }

// Latest returns the most recent snapshot for an entity, or nil when the
// entity has never been snapshotted.
func (s *Store) Latest(ctx context.Context, q db.Querier, entityType string, entityID int64) (*model.EntitySnapshot, error) {
	row := q.QueryRow(ctx,
		`SELECT id, entity_type, entity_id, schema_version, data, data_hash,
		        COALESCE(extraction_session_id, ''), created_at
		 FROM entity_snapshots
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		entityType, entityID,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: latest")
	}
	return snap, nil
}

// byHash returns the entity's snapshot carrying the given data hash, or nil.
// Snapshots are content-addressed per entity, so at most one row matches.
func (s *Store) byHash(ctx context.Context, q db.Querier, entityType string, entityID int64, hash string) (*model.EntitySnapshot, error) {
	row := q.QueryRow(ctx,
		`SELECT id, entity_type, entity_id, schema_version, data, data_hash,
		        COALESCE(extraction_session_id, ''), created_at
		 FROM entity_snapshots
		 WHERE entity_type = $1 AND entity_id = $2 AND data_hash = $3
		 LIMIT 1`,
		entityType, entityID, hash,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: lookup by hash")
	}
	return snap, nil
}

func scanSnapshot(row pgx.Row) (*model.EntitySnapshot, error) {
	var (
		snap model.EntitySnapshot
		data []byte
	)
	err := row.Scan(&snap.ID, &snap.EntityType, &snap.EntityID, &snap.SchemaVersion,
		&data, &snap.DataHash, &snap.SessionID, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &snap.Data); err != nil {
		return nil, eris.Wrap(err, "snapshot: decode data")
	}
	return &snap, nil
}

// Create writes a snapshot unless any snapshot of the entity already carries
// the same data hash, so a reverted state reuses the original row instead of
// duplicating its hash. Returns the effective snapshot and whether a row was
// inserted.
func (s *Store) Create(ctx context.Context, q db.Querier, snap model.EntitySnapshot) (*model.EntitySnapshot, bool, error) {
	hash, err := HashData(snap.Data)
	if err != nil {
		return nil, false, err
	}
	snap.DataHash = hash

	existing, err := s.byHash(ctx, q, snap.EntityType, snap.EntityID, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		zap.L().Debug("snapshot state already captured, skipping",
			zap.String("entity_type", snap.EntityType),
			zap.Int64("entity_id", snap.EntityID))
		return existing, false, nil
	}

	data, err := CanonicalJSON(snap.Data)
	if err != nil {
		return nil, false, err
	}
	snap.CreatedAt = time.Now().UTC()
	err = q.QueryRow(ctx,
		`INSERT INTO entity_snapshots
		   (entity_type, entity_id, schema_version, data, data_hash, extraction_session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		 RETURNING id`,
		snap.EntityType, snap.EntityID, snap.SchemaVersion, data, snap.DataHash,
		snap.SessionID, snap.CreatedAt,
	).Scan(&snap.ID)
	if err != nil {
		return nil, false, eris.Wrap(err, "snapshot: insert")
	}
	return &snap, true, nil
}

// RecordChange writes a change record. The change hash makes re-detection of
// the same transition idempotent.
func (s *Store) RecordChange(ctx context.Context, q db.Querier, change *model.EntityChange) error {
	diffJSON, err := json.Marshal(change.Diff)
	if err != nil {
		return eris.Wrap(err, "snapshot: marshal diff")
	}
	fieldsJSON, err := json.Marshal(change.FieldsChanged)
	if err != nil {
		return eris.Wrap(err, "snapshot: marshal fields")
	}

	change.CreatedAt = time.Now().UTC()
	_, err = q.Exec(ctx,
		`INSERT INTO entity_changes
		   (entity_type, entity_id, change_type, diff, fields_changed,
		    previous_snapshot_id, current_snapshot_id, summary, change_hash,
		    extraction_session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, $9, NULLIF($10, ''), $11)
		 ON CONFLICT (change_hash) DO NOTHING`,
		change.EntityType, change.EntityID, change.ChangeType, diffJSON, fieldsJSON,
		change.PreviousSnapshotID, change.CurrentSnapshotID, change.Summary,
		change.ChangeHash, change.SessionID, change.CreatedAt,
	)
	return eris.Wrap(err, "snapshot: insert change")
}

// Capture runs the snapshot-then-detect flow for one entity state inside the
// caller's transaction. The first snapshot of an entity produces no change
// record, only the snapshot; so does an identical state. A reverted state
// reuses the original snapshot row and still records the transition.
func (s *Store) Capture(ctx context.Context, q db.Querier, entityName, sessionID string, snap model.EntitySnapshot) (*model.EntityChange, error) {
	previous, err := s.Latest(ctx, q, snap.EntityType, snap.EntityID)
	if err != nil {
		return nil, err
	}

	snap.SessionID = sessionID
	current, _, err := s.Create(ctx, q, snap)
	if err != nil {
		return nil, err
	}
	if previous == nil || previous.DataHash == current.DataHash {
		return nil, nil
	}

	change := buildChange(entityName, sessionID, previous, current)
	if change == nil {
		return nil, nil
	}
	if err := s.RecordChange(ctx, q, change); err != nil {
		return nil, err
	}
	return change, nil
}

func buildChange(entityName, sessionID string, previous, current *model.EntitySnapshot) *model.EntityChange {
	diff := Diff(previous.Data, current.Data)
	if len(diff) == 0 {
		return nil
	}
	return &model.EntityChange{
		EntityType:         current.EntityType,
		EntityID:           current.EntityID,
		ChangeType:         model.ChangeUpdated,
		Diff:               diff,
		FieldsChanged:      FieldsChanged(diff),
		PreviousSnapshotID: previous.ID,
		CurrentSnapshotID:  current.ID,
		Summary:            Summarize(entityName, diff),
		ChangeHash:         changeHash(current.EntityType, current.EntityID, previous.DataHash, current.DataHash),
		SessionID:          sessionID,
	}
}

// changeHash identifies one state transition of one entity.
func changeHash(entityType string, entityID int64, prevHash, currHash string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%s", entityType, entityID, prevHash, currHash))
	return hex.EncodeToString(sum[:])
}
