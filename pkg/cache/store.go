package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/tilecraft/pkg/observability"
)

const (
	objectsDir   = "objects"
	stagingDir   = "staging"
	manifestName = "manifest.json"
)

// File describes one file of a published artifact.
type File struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest describes a published artifact.
type Manifest struct {
	Key       string            `json:"key"`
	Kind      string            `json:"kind"`
	Files     []File            `json:"files"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// sameContent reports whether two manifests describe identical artifacts.
// Creation time is not content.
func (m Manifest) sameContent(o Manifest) bool {
	return m.Key == o.Key &&
		slices.Equal(m.Files, o.Files) &&
		maps.Equal(m.Meta, o.Meta)
}

// Entry is a published artifact.
type Entry struct {
	Dir      string
	Manifest Manifest
}

// Path returns the absolute path of a file in the entry.
func (e *Entry) Path(name string) string {
	return filepath.Join(e.Dir, name)
}

// Size returns the total size of the entry's files.
func (e *Entry) Size() int64 {
	var n int64
	for _, f := range e.Manifest.Files {
		n += f.Size
	}
	return n
}

// Store is a content-addressed artifact store on the local filesystem.
//
// Layout:
//
//	<root>/objects/<kind>/<hh>/<rest-of-digest>/manifest.json
//	<root>/objects/<kind>/<hh>/<rest-of-digest>/<files...>
//	<root>/staging/<uuid>/   (in-progress writes)
//
// Put writes into a staging directory and publishes with a single rename
// of that directory. Get never observes a partially written entry.
type Store struct {
	root string
}

// NewStore opens (and creates) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	for _, d := range []string{filepath.Join(dir, objectsDir), filepath.Join(dir, stagingDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{root: dir}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) entryDir(key string) (string, string, error) {
	kind, digest, ok := splitKey(key)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, objectsDir, kind, digest[:2], digest[2:]), kind, nil
}

// Get returns the entry for key. A missing entry is (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool, error) {
	dir, kind, err := s.entryDir(key)
	if err != nil {
		return nil, false, err
	}

	m, err := readManifest(dir)
	if os.IsNotExist(err) {
		observability.Cache().OnCacheMiss(ctx, kind)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if m.Key != key {
		return nil, false, fmt.Errorf("%w: %s: manifest key %s", ErrCorrupt, key, m.Key)
	}
	for _, f := range m.Files {
		info, err := os.Stat(filepath.Join(dir, f.Name))
		if err != nil || info.Size() != f.Size {
			return nil, false, fmt.Errorf("%w: %s: file %s", ErrCorrupt, key, f.Name)
		}
	}

	now := time.Now()
	_ = os.Chtimes(filepath.Join(dir, manifestName), now, now)
	observability.Cache().OnCacheHit(ctx, kind)
	return &Entry{Dir: dir, Manifest: m}, true, nil
}

// Put publishes files (name -> source path) under key. The source files are
// copied and left in place.
//
// Publishing an existing key with identical content returns the existing
// entry. Publishing it with different content fails with ErrConflict and
// leaves the existing entry untouched. A cancelled context aborts the write
// before publication and removes the staged copy.
func (s *Store) Put(ctx context.Context, key string, files map[string]string, meta map[string]string) (*Entry, error) {
	dir, kind, err := s.entryDir(key)
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(s.root, stagingDir, uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	names := slices.Sorted(maps.Keys(files))
	m := Manifest{Key: key, Kind: kind, Meta: meta, CreatedAt: time.Now().UTC()}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if name == manifestName || filepath.Base(name) != name {
			return nil, fmt.Errorf("invalid artifact file name %q", name)
		}
		f, err := copyHashed(ctx, files[name], filepath.Join(staging, name))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		f.Name = name
		m.Files = append(m.Files, f)
	}
	if err := writeManifest(staging, m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, dir); err != nil {
		existing, rerr := readManifest(dir)
		if rerr != nil {
			return nil, fmt.Errorf("publish %s: %w", key, err)
		}
		if !existing.sameContent(m) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, key)
		}
		return &Entry{Dir: dir, Manifest: existing}, nil
	}

	e := &Entry{Dir: dir, Manifest: m}
	observability.Cache().OnCacheSet(ctx, kind, e.Size())
	return e, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *Store) Delete(key string) error {
	dir, _, err := s.entryDir(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Usage summarises the store contents.
type Usage struct {
	Entries map[string]int // per kind
	Bytes   int64
}

// Usage walks the store and counts entries and bytes.
func (s *Store) Usage() (Usage, error) {
	u := Usage{Entries: make(map[string]int)}
	err := s.walk(func(dir string, m Manifest, _ time.Time) error {
		u.Entries[m.Kind]++
		for _, f := range m.Files {
			u.Bytes += f.Size
		}
		return nil
	})
	return u, err
}

// Prune removes least recently used entries until the store holds at most
// maxBytes. It returns the number of entries removed.
func (s *Store) Prune(maxBytes int64) (int, error) {
	type item struct {
		dir  string
		size int64
		used time.Time
	}
	var items []item
	var total int64
	err := s.walk(func(dir string, m Manifest, used time.Time) error {
		var size int64
		for _, f := range m.Files {
			size += f.Size
		}
		items = append(items, item{dir, size, used})
		total += size
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].used.Before(items[j].used) })
	removed := 0
	for _, it := range items {
		if total <= maxBytes {
			break
		}
		if err := os.RemoveAll(it.dir); err != nil {
			return removed, err
		}
		total -= it.size
		removed++
	}
	return removed, nil
}

// Clear removes every entry and any leftover staging directories.
func (s *Store) Clear() error {
	for _, d := range []string{objectsDir, stagingDir} {
		if err := os.RemoveAll(filepath.Join(s.root, d)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(s.root, d), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) walk(fn func(dir string, m Manifest, used time.Time) error) error {
	root := filepath.Join(s.root, objectsDir)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != manifestName {
			return nil
		}
		dir := filepath.Dir(path)
		m, err := readManifest(dir)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(dir, m, info.ModTime())
	})
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
}

// copyHashed copies src to dst, hashing the bytes on the way.
func copyHashed(ctx context.Context, src, dst string) (File, error) {
	in, err := os.Open(src)
	if err != nil {
		return File{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return File{}, err
	}

	digest, n, err := HashReader(io.TeeReader(&ctxReader{ctx: ctx, r: in}, out))
	if err != nil {
		out.Close()
		return File{}, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return File{}, err
	}
	if err := out.Close(); err != nil {
		return File{}, err
	}
	return File{Size: n, SHA256: digest}, nil
}

// ctxReader stops a long copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
