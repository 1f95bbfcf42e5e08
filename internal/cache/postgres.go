package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel/internal/db"
)

// PostgresStore implements Store on the shared pipeline database, used when
// multiple ingest workers need a common cache.
type PostgresStore struct {
	pool db.Pool
	ttl  time.Duration
}

// NewPostgres wraps an existing pool. The model_cache table is created by
// the migrate command alongside the pipeline tables.
func NewPostgres(pool db.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, ttl: ttl}
}

func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT key, model, competitor, page_type, response,
		        input_tokens, output_tokens, hits, created_at, last_used_at, expires_at
		 FROM model_cache WHERE key = $1`, key,
	).Scan(&e.Key, &e.Model, &e.Competitor, &e.PageType, &e.Response,
		&e.InputTokens, &e.OutputTokens, &e.Hits, &e.CreatedAt, &e.LastUsedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	if time.Now().UTC().After(e.ExpiresAt) {
		return nil, nil
	}
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, e Entry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = now
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = now.Add(s.ttl)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_cache
		   (key, model, competitor, page_type, response,
		    input_tokens, output_tokens, created_at, last_used_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (key) DO UPDATE SET
		   response = EXCLUDED.response,
		   input_tokens = EXCLUDED.input_tokens,
		   output_tokens = EXCLUDED.output_tokens,
		   last_used_at = EXCLUDED.last_used_at,
		   expires_at = EXCLUDED.expires_at`,
		e.Key, e.Model, e.Competitor, e.PageType, e.Response,
		e.InputTokens, e.OutputTokens, e.CreatedAt, e.LastUsedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "cache: put")
}

func (s *PostgresStore) Touch(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE model_cache SET hits = hits + 1, last_used_at = $1 WHERE key = $2`,
		time.Now().UTC(), key,
	)
	return eris.Wrap(err, "cache: touch")
}

func (s *PostgresStore) EvictExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_cache WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict expired")
	}
	return tag.RowsAffected(), nil
}

// EvictLRU deletes everything beyond the keep most recently used entries.
func (s *PostgresStore) EvictLRU(ctx context.Context, keep int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_cache WHERE key NOT IN (
		   SELECT key FROM model_cache ORDER BY last_used_at DESC LIMIT $1
		 )`, keep)
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict lru")
	}
	return tag.RowsAffected(), nil
}
