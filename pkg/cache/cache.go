// Package cache provides the content-addressed caching layer for Tilecraft.
//
// Two kinds of storage live here:
//
//   - [Store] holds completed artifacts (feature collections, tile archives)
//     under a key derived from every semantically relevant input. Entries are
//     staged in a private directory and published with an atomic rename, so
//     concurrent readers see either no entry or a complete one.
//   - [Cache] is a small key/value interface for memoised values such as
//     source file fingerprints, with file, Redis and no-op implementations.
//
// Keys come from a [Keyer]. They never include wall-clock time or process
// identifiers, so identical inputs always map to the same key.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value cache with optional expiry.
type Cache interface {
	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A zero ttl never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the cache.
	Close() error
}

// NullCache never stores anything. It is used when caching is disabled.
type NullCache struct{}

// NewNullCache creates a null cache.
func NewNullCache() Cache {
	return NullCache{}
}

func (NullCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NullCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullCache) Delete(context.Context, string) error                     { return nil }
func (NullCache) Close() error                                             { return nil }

var _ Cache = NullCache{}
