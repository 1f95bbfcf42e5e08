// Package cache persists model responses keyed by a content hash of the
// request, so re-running extraction over unchanged pages costs nothing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one cached model response.
type Entry struct {
	Key          string
	Model        string
	Competitor   string
	PageType     string
	Response     string
	InputTokens  int64
	OutputTokens int64
	Hits         int64
	CreatedAt    time.Time
	LastUsedAt   time.Time
	ExpiresAt    time.Time
}

// Store is the model-response cache. Get returns (nil, nil) on miss or
// expiry; Put overwrites an existing entry under the same key; Touch records
// a hit by bumping last_used_at and the hit counter.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Touch(ctx context.Context, key string) error
	EvictExpired(ctx context.Context) (int64, error)
	EvictLRU(ctx context.Context, keep int64) (int64, error)
	Close() error
}

// KeyInput names everything that makes a cached response reusable. Any
// change to a field here must produce a different key.
type KeyInput struct {
	Model         string
	PromptVersion string
	SchemaVersion string
	PageType      string
	Competitor    string
	Prompt        string
}

// Key derives the cache key as a SHA-256 over the key input fields.
func Key(in KeyInput) string {
	h := sha256.New()
	for _, part := range []string{
		in.Model, in.PromptVersion, in.SchemaVersion,
		in.PageType, in.Competitor, in.Prompt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
