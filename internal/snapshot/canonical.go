// Package snapshot captures immutable entity states and derives change
// records by diffing consecutive snapshots.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// CanonicalJSON serializes a field map deterministically. encoding/json
// sorts map keys, which is the only ordering guarantee the hash needs;
// identical field maps always produce identical bytes.
func CanonicalJSON(data map[string]any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: canonical marshal")
	}
	return b, nil
}

// HashData returns the SHA-256 of the canonical serialization, hex encoded.
func HashData(data map[string]any) (string, error) {
	b, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
