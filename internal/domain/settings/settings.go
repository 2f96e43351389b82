// Package settings defines the stored key-value documents behind the
// settings tier of policy resolution.
package settings

import (
	"encoding/json"
	"time"
)

// Setting is one stored document. Value is opaque to the store; callers
// validate it before writing.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

