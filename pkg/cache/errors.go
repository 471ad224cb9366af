package cache

import "errors"

// Sentinel errors for artifact store operations.
var (
	// ErrConflict is returned when a key is published twice with different
	// content. It means two different inputs produced the same fingerprint.
	ErrConflict = errors.New("cache conflict: key already holds different content")

	// ErrCorrupt is returned when a published entry is unreadable or its
	// files do not match the manifest.
	ErrCorrupt = errors.New("cache entry corrupt")

	// ErrInvalidKey is returned for keys not produced by a Keyer.
	ErrInvalidKey = errors.New("invalid cache key")
)
