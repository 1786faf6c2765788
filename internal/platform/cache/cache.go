// Package cache provides small in-process TTL caches with hashed keys.
//
// Callers that decorate results with mass-fetched public profiles use these
// caches to bound the read traffic to the profile service. Keys are built
// from the caller's identifying parts plus a SHA-256 digest of the variable
// parts (profile field lists, account id sets).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is an expiring in-process cache from string keys to values of type V.
type TTL[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewTTL creates a TTL cache holding at most size entries for ttl each.
func NewTTL[V any](size int, ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		lru: expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.lru == nil {
		return zero, false
	}
	return c.lru.Get(key)
}

// Set stores value under key.
func (c *TTL[V]) Set(key string, value V) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(key, value)
}

// Key joins fixed key parts with a colon separator.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// HashParts returns a hex SHA-256 digest of the joined parts.
//
// Used for the variable tail of cache keys so arbitrary field lists cannot
// produce unbounded key material.
func HashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
