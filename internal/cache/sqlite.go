package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file, the default for
// single-machine CLI runs.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: db, ttl: ttl}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS model_cache (
	key           TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	competitor    TEXT NOT NULL DEFAULT '',
	page_type     TEXT NOT NULL DEFAULT '',
	response      TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	hits          INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	last_used_at  DATETIME NOT NULL,
	expires_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_cache_expires_at ON model_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_model_cache_last_used_at ON model_cache(last_used_at);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "cache: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT key, model, competitor, page_type, response,
		        input_tokens, output_tokens, hits, created_at, last_used_at, expires_at
		 FROM model_cache WHERE key = ?`, key,
	).Scan(&e.Key, &e.Model, &e.Competitor, &e.PageType, &e.Response,
		&e.InputTokens, &e.OutputTokens, &e.Hits, &e.CreatedAt, &e.LastUsedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
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

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_cache
		   (key, model, competitor, page_type, response,
		    input_tokens, output_tokens, created_at, last_used_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   response = excluded.response,
		   input_tokens = excluded.input_tokens,
		   output_tokens = excluded.output_tokens,
		   last_used_at = excluded.last_used_at,
		   expires_at = excluded.expires_at`,
		e.Key, e.Model, e.Competitor, e.PageType, e.Response,
		e.InputTokens, e.OutputTokens, e.CreatedAt, e.LastUsedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "cache: put")
}

func (s *SQLiteStore) Touch(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE model_cache SET hits = hits + 1, last_used_at = ? WHERE key = ?`,
		time.Now().UTC(), key,
	)
	return eris.Wrap(err, "cache: touch")
}

func (s *SQLiteStore) EvictExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM model_cache WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict expired")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// EvictLRU deletes everything beyond the keep most recently used entries.
func (s *SQLiteStore) EvictLRU(ctx context.Context, keep int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM model_cache WHERE key NOT IN (
		   SELECT key FROM model_cache ORDER BY last_used_at DESC LIMIT ?
		 )`, keep)
	if err != nil {
		return 0, eris.Wrap(err, "cache: evict lru")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
