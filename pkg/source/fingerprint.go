package source

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
)

// DefaultFingerprintTTL bounds how long a memoised digest is trusted.
const DefaultFingerprintTTL = 30 * 24 * time.Hour

// Fingerprinter computes SHA-256 content digests of source files.
//
// Hashing a regional extract takes seconds, so digests are memoised in a
// byte cache keyed by absolute path, size and modification time. A file
// rewritten in place with a new mtime or size is hashed again.
type Fingerprinter struct {
	Memo  cache.Cache
	Keyer cache.Keyer
	TTL   time.Duration
}

// NewFingerprinter creates a fingerprinter. A nil memo disables memoisation.
func NewFingerprinter(memo cache.Cache, keyer cache.Keyer) *Fingerprinter {
	if memo == nil {
		memo = cache.NewNullCache()
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	return &Fingerprinter{Memo: memo, Keyer: keyer, TTL: DefaultFingerprintTTL}
}

// Fingerprint returns the hex SHA-256 digest of the file at path.
func (f *Fingerprinter) Fingerprint(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "resolve %s", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "stat source file")
	}

	key := f.Keyer.FingerprintKey(abs, info.Size(), info.ModTime().UnixNano())
	if data, ok, err := f.Memo.Get(ctx, key); err == nil && ok && len(data) == 64 {
		return string(data), nil
	}

	digest, _, err := cache.HashFile(abs)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOSMProcessing, err, "hash source file")
	}
	// A failed memo write only costs a rehash next time.
	_ = f.Memo.Set(ctx, key, []byte(digest), f.TTL)
	return digest, nil
}
