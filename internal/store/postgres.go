// Package store persists canonical entities and their extraction provenance
// in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel/internal/db"
	"github.com/sells-group/compintel/internal/model"
)

// EntityStore reads and writes canonical entity rows. One live row exists
// per (competitor, entity_type, natural_key); entities are never deleted,
// only moved through status transitions.
type EntityStore struct {
	pool db.Pool
}

// NewEntityStore wraps a pool.
func NewEntityStore(pool db.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// Pool exposes the underlying pool for transaction scoping.
func (s *EntityStore) Pool() db.Pool { return s.pool }

const entityColumns = `id, competitor, entity_type, natural_key, name, status,
	data, confidence, source_rank, first_seen, last_updated`

// FindByNaturalKey returns the live entity for a key, or nil when absent.
func (s *EntityStore) FindByNaturalKey(ctx context.Context, q db.Querier, competitor, entityType, naturalKey string) (*model.EntityRecord, error) {
	row := q.QueryRow(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE competitor = $1 AND entity_type = $2 AND natural_key = $3`,
		competitor, entityType, naturalKey)

	rec, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: find entity")
	}
	return rec, nil
}

// Create inserts a new entity and fills in its ID and timestamps.
func (s *EntityStore) Create(ctx context.Context, q db.Querier, rec *model.EntityRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return eris.Wrap(err, "store: marshal entity data")
	}

	now := time.Now().UTC()
	rec.FirstSeen = now
	rec.LastUpdated = now
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}

	err = q.QueryRow(ctx,
		`INSERT INTO entities
		   (competitor, entity_type, natural_key, name, status, data,
		    confidence, source_rank, first_seen, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		rec.Competitor, rec.EntityType, rec.NaturalKey, rec.Name, rec.Status,
		data, rec.Confidence, rec.SourceRank, rec.FirstSeen, rec.LastUpdated,
	).Scan(&rec.ID)
	if err != nil {
		return eris.Wrap(err, "store: insert entity")
	}
	return nil
}

// Update rewrites the merged state of an existing entity.
func (s *EntityStore) Update(ctx context.Context, q db.Querier, rec *model.EntityRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return eris.Wrap(err, "store: marshal entity data")
	}

	rec.LastUpdated = time.Now().UTC()
	tag, err := q.Exec(ctx,
		`UPDATE entities
		 SET name = $1, status = $2, data = $3, confidence = $4,
		     source_rank = $5, last_updated = $6
		 WHERE id = $7`,
		rec.Name, rec.Status, data, rec.Confidence, rec.SourceRank,
		rec.LastUpdated, rec.ID)
	if err != nil {
		return eris.Wrap(err, "store: update entity")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("store: entity %d not found", rec.ID)
	}
	return nil
}

// ListByCompetitor returns all live entities for a competitor, optionally
// filtered to one type.
func (s *EntityStore) ListByCompetitor(ctx context.Context, competitor, entityType string) ([]model.EntityRecord, error) {
	sql := `SELECT ` + entityColumns + ` FROM entities WHERE competitor = $1`
	args := []any{competitor}
	if entityType != "" {
		sql += ` AND entity_type = $2`
		args = append(args, entityType)
	}
	sql += ` ORDER BY entity_type, natural_key`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list entities")
	}
	defer rows.Close()

	var out []model.EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan entity")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "store: list entities")
}

// InsertSource appends one provenance record. Sources are append-only.
func (s *EntityStore) InsertSource(ctx context.Context, q db.Querier, src *model.ExtractionSource) error {
	fields, err := json.Marshal(src.FieldsExtracted)
	if err != nil {
		return eris.Wrap(err, "store: marshal source fields")
	}

	src.CreatedAt = time.Now().UTC()
	err = q.QueryRow(ctx,
		`INSERT INTO extraction_sources
		   (entity_type, entity_id, source_url, content_hash, page_type, method,
		    confidence, fields_extracted, input_tokens, output_tokens, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		src.EntityType, src.EntityID, src.SourceURL, src.ContentHash, src.PageType,
		src.Method, src.Confidence, fields, src.InputTokens, src.OutputTokens,
		src.DurationMS, src.CreatedAt,
	).Scan(&src.ID)
	return eris.Wrap(err, "store: insert source")
}

// SourcesForEntity returns the provenance trail for one entity, newest first.
func (s *EntityStore) SourcesForEntity(ctx context.Context, entityType string, entityID int64) ([]model.ExtractionSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_type, entity_id, source_url, content_hash, page_type,
		        method, confidence, fields_extracted, input_tokens, output_tokens,
		        duration_ms, created_at
		 FROM extraction_sources
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at DESC`,
		entityType, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list sources")
	}
	defer rows.Close()

	var out []model.ExtractionSource
	for rows.Next() {
		var (
			src    model.ExtractionSource
			fields []byte
		)
		if err := rows.Scan(&src.ID, &src.EntityType, &src.EntityID, &src.SourceURL,
			&src.ContentHash, &src.PageType, &src.Method, &src.Confidence, &fields,
			&src.InputTokens, &src.OutputTokens, &src.DurationMS, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan source")
		}
		if err := json.Unmarshal(fields, &src.FieldsExtracted); err != nil {
			return nil, eris.Wrap(err, "store: decode source fields")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "store: list sources")
}

func scanEntity(row pgx.Row) (*model.EntityRecord, error) {
	var (
		rec  model.EntityRecord
		data []byte
	)
	if err := row.Scan(&rec.ID, &rec.Competitor, &rec.EntityType, &rec.NaturalKey,
		&rec.Name, &rec.Status, &data, &rec.Confidence, &rec.SourceRank,
		&rec.FirstSeen, &rec.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return nil, eris.Wrap(err, "store: decode entity data")
	}
	return &rec, nil
}
