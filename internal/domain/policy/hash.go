package policy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/zeebo/blake3"
)

// HashPrefix tags content hashes with their algorithm.
const HashPrefix = "b3:"

// ContentHash returns a stable digest of the effective grants of cfg: BLAKE3
// over the RFC 8785 canonical JSON form. Two configs that serialize to the
// same canonical document hash identically.
func ContentHash(cfg *Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("policy: hash of nil config")
	}
	c := *cfg
	if c.Rules == nil {
		c.Rules = []Rule{}
	}
	raw, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("policy: marshal for hash: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("policy: canonicalize: %w", err)
	}
	sum := blake3.Sum256(canon)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

// RawKey is the cache key for a raw policy document.
func RawKey(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
