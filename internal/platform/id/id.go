// Package id generates the opaque keys used by the request ledger.
//
// Keys are canonical UUIDv4 strings. They are treated as opaque by every
// caller; only the ledger ever parses them back.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewKey returns a freshly generated opaque request key.
func NewKey() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate request key: %w", err)
	}
	return value.String(), nil
}
