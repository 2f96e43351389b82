// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict, e.g. an approval
// that was already resolved by another request.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed caller input. Errors wrapping it are
// surfaced as 400s and are never written to the audit ledger.
var ErrValidation = errors.New("validation failed")
