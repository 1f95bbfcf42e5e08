package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel/internal/db"
)

// migration creates the pipeline tables. Idempotent; run by the migrate
// command before first use.
const migration = `
CREATE TABLE IF NOT EXISTS entities (
	id           BIGSERIAL PRIMARY KEY,
	competitor   TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	natural_key  TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	data         JSONB NOT NULL DEFAULT '{}',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_rank  DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_seen   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (competitor, entity_type, natural_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_competitor_type ON entities(competitor, entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_last_updated ON entities(last_updated);

CREATE TABLE IF NOT EXISTS extraction_sources (
	id               BIGSERIAL PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	entity_id        BIGINT NOT NULL REFERENCES entities(id),
	source_url       TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	page_type        TEXT NOT NULL,
	method           TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	fields_extracted JSONB NOT NULL DEFAULT '[]',
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extraction_sources_entity ON extraction_sources(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_extraction_sources_content_hash ON extraction_sources(content_hash);

CREATE TABLE IF NOT EXISTS entity_snapshots (
	id                    BIGSERIAL PRIMARY KEY,
	entity_type           TEXT NOT NULL,
	entity_id             BIGINT NOT NULL REFERENCES entities(id),
	schema_version        TEXT NOT NULL DEFAULT '1',
	data                  JSONB NOT NULL,
	data_hash             TEXT NOT NULL,
	extraction_session_id UUID,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entity_snapshots_entity ON entity_snapshots(entity_type, entity_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_snapshots_hash ON entity_snapshots(entity_type, entity_id, data_hash);

CREATE TABLE IF NOT EXISTS entity_changes (
	id                    BIGSERIAL PRIMARY KEY,
	entity_type           TEXT NOT NULL,
	entity_id             BIGINT NOT NULL REFERENCES entities(id),
	change_type           TEXT NOT NULL,
	diff                  JSONB,
	fields_changed        JSONB NOT NULL DEFAULT '[]',
	previous_snapshot_id  BIGINT REFERENCES entity_snapshots(id),
	current_snapshot_id   BIGINT NOT NULL REFERENCES entity_snapshots(id),
	summary               TEXT NOT NULL DEFAULT '',
	change_hash           TEXT NOT NULL UNIQUE,
	extraction_session_id UUID,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entity_changes_entity ON entity_changes(entity_type, entity_id, created_at DESC);

CREATE TABLE IF NOT EXISTS model_cache (
	key           TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	competitor    TEXT NOT NULL DEFAULT '',
	page_type     TEXT NOT NULL DEFAULT '',
	response      TEXT NOT NULL,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	hits          BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	last_used_at  TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_cache_expires_at ON model_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_model_cache_last_used_at ON model_cache(last_used_at);
`

// Migrate creates or updates the schema.
func Migrate(ctx context.Context, pool db.Pool) error {
	_, err := pool.Exec(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}
