package cache

// ScopedKeyer wraps a Keyer with a prefix. It keeps memoised values that
// only make sense on one machine, such as fingerprints keyed by local path,
// apart when several machines share a Redis cache.
//
//	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), hostname+":")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to fingerprint keys only: artifact keys must stay
// parseable by the Store.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// ExtractKey delegates to the inner keyer.
func (k *ScopedKeyer) ExtractKey(opts ExtractKeyOpts) string {
	return k.inner.ExtractKey(opts)
}

// TilesKey delegates to the inner keyer.
func (k *ScopedKeyer) TilesKey(opts TilesKeyOpts) string {
	return k.inner.TilesKey(opts)
}

// FingerprintKey generates a prefixed fingerprint key.
func (k *ScopedKeyer) FingerprintKey(path string, size, modTime int64) string {
	return k.prefix + k.inner.FingerprintKey(path, size, modTime)
}
