// Package extract turns a source data file into one GeoJSON feature
// collection per requested category.
//
// An extraction reads the source once for all categories, writes every
// collection (empty ones included), validates what it wrote and publishes
// the set to the artifact store under a key derived from the region, the
// category definitions and the source content. A later call with the same
// inputs returns the published collections without reading the source.
package extract

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/feature"
	"github.com/matzehuels/tilecraft/pkg/observability"
	"github.com/matzehuels/tilecraft/pkg/region"
	"github.com/matzehuels/tilecraft/pkg/source"
)

// CollectionExt is the file extension of written collections.
const CollectionExt = ".geojson"

const (
	metaSummary = "summary"
	metaRegion  = "region"
)

// CollectionRef points at a persisted feature collection.
type CollectionRef struct {
	Category string `json:"category"`
	Path     string `json:"path"`
	Features int    `json:"features"`
}

// Empty reports whether the collection holds no features.
func (c CollectionRef) Empty() bool {
	return c.Features == 0
}

// Result is the outcome of one extraction.
type Result struct {
	Key         string                   `json:"key"`
	Fingerprint string                   `json:"fingerprint"`
	Collections map[string]CollectionRef `json:"collections"`
	Summary     feature.Summary          `json:"summary"`
	CacheHit    bool                     `json:"cache_hit"`
	Duration    time.Duration            `json:"duration"`
}

// Empty returns the names of categories that matched nothing, sorted.
func (r *Result) Empty() []string {
	var names []string
	for name, c := range r.Collections {
		if c.Empty() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Extractor runs extractions against an artifact store.
type Extractor struct {
	Store         *cache.Store
	Keyer         cache.Keyer
	Scanner       source.Scanner
	Fingerprinter *source.Fingerprinter
	Logger        *log.Logger

	// WorkDir holds collections while they are written. Empty means the
	// system temp directory.
	WorkDir string

	// Refresh ignores an existing entry and extracts again.
	Refresh bool
}

// New creates an extractor with the default scanner and an unmemoised
// fingerprinter.
func New(store *cache.Store, keyer cache.Keyer, logger *log.Logger) *Extractor {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{
		Store:         store,
		Keyer:         keyer,
		Scanner:       source.FileScanner{},
		Fingerprinter: source.NewFingerprinter(nil, keyer),
		Logger:        logger,
	}
}

// Key returns the cache key for extracting categories from a source whose
// content fingerprint is fp.
func (e *Extractor) Key(r region.Region, categories []feature.Category, fp string) string {
	defs := make([]string, len(categories))
	for i, c := range categories {
		defs[i] = categoryKey(c)
	}
	slices.Sort(defs)
	return e.Keyer.ExtractKey(cache.ExtractKeyOpts{
		Region:     r.String(),
		Categories: defs,
		Source:     fp,
	})
}

// categoryKey renders a category with its full rule set so that changing a
// rule changes the key.
func categoryKey(c feature.Category) string {
	rules := make([]string, len(c.Rules))
	for i, r := range c.Rules {
		rules[i] = r.String()
	}
	return c.Name + ":" + strings.Join(rules, ",")
}

// Extract produces one collection per category from sourcePath.
//
// An absent, empty or unrecognised source fails with OSM_PROCESSING before
// anything is written. Entities whose geometry cannot be built are counted
// in the summary and skipped.
func (e *Extractor) Extract(ctx context.Context, r region.Region, categories []feature.Category, sourcePath string) (*Result, error) {
	start := time.Now()
	if e.Store == nil {
		return nil, errors.New(errors.ErrCodeInternal, "extractor has no artifact store")
	}
	if len(categories) == 0 {
		return nil, errors.New(errors.ErrCodeFeatureExtraction, "no feature categories requested")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := source.Validate(sourcePath); err != nil {
		return nil, err
	}

	fp, err := e.Fingerprinter.Fingerprint(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	key := e.Key(r, categories, fp)

	if e.Refresh {
		if err := e.Store.Delete(key); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "drop cached extraction")
		}
	} else {
		res, err := e.lookup(ctx, key, categories)
		if err != nil {
			return nil, err
		}
		if res != nil {
			res.Fingerprint = fp
			res.Duration = time.Since(start)
			e.Logger.Info("using cached extraction", "key", shortKey(key), "categories", len(categories))
			return res, nil
		}
	}

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}
	observability.Pipeline().OnExtractStart(ctx, names)

	res, err := e.run(ctx, r, categories, sourcePath, key)
	total := 0
	if res != nil {
		res.Fingerprint = fp
		res.Duration = time.Since(start)
		for _, n := range res.Summary.Features {
			total += n
		}
		for kind, n := range res.Summary.Skipped {
			observability.Pipeline().OnEntitiesSkipped(ctx, string(kind), n)
		}
	}
	observability.Pipeline().OnExtractComplete(ctx, total, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Extractor) lookup(ctx context.Context, key string, categories []feature.Category) (*Result, error) {
	entry, ok, err := e.Store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "read cached extraction (run 'tilecraft cache clear' to reset)")
	}
	if !ok {
		return nil, nil
	}

	res := &Result{Key: key, CacheHit: true, Collections: make(map[string]CollectionRef, len(categories))}
	if err := json.Unmarshal([]byte(entry.Manifest.Meta[metaSummary]), &res.Summary); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, cache.ErrCorrupt, "cached extraction %s has no summary", shortKey(key))
	}

	files := make(map[string]bool, len(entry.Manifest.Files))
	for _, f := range entry.Manifest.Files {
		files[f.Name] = true
	}
	for _, c := range categories {
		name := c.Name + CollectionExt
		if !files[name] {
			return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, cache.ErrCorrupt, "cached extraction %s lacks %s", shortKey(key), name)
		}
		res.Collections[c.Name] = CollectionRef{
			Category: c.Name,
			Path:     entry.Path(name),
			Features: res.Summary.Features[c.Name],
		}
	}
	return res, nil
}

func (e *Extractor) run(ctx context.Context, r region.Region, categories []feature.Category, sourcePath, key string) (*Result, error) {
	work, err := os.MkdirTemp(e.WorkDir, "extract-*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "create work directory")
	}
	defer os.RemoveAll(work)

	writers := make(map[string]*collectionWriter, len(categories))
	abort := func() {
		for _, w := range writers {
			w.abort()
		}
	}
	for _, c := range categories {
		w, err := createCollection(filepath.Join(work, c.Name+CollectionExt))
		if err != nil {
			abort()
			return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "create collection %s", c.Name)
		}
		writers[c.Name] = w
	}

	sink := feature.SinkFunc(func(f *feature.Feature) error {
		if err := writers[f.Category].write(f); err != nil {
			return errors.Wrap(errors.ErrCodeFeatureExtraction, err, "write %s feature", f.Category)
		}
		return nil
	})
	handler := feature.NewHandler(categories, sink, e.Logger)

	e.Logger.Debug("scanning source", "path", sourcePath, "categories", len(categories))
	if err := e.Scanner.Scan(ctx, sourcePath, handler); err != nil {
		abort()
		return nil, err
	}

	summary := handler.Summary()
	e.Logger.Debug("scan complete",
		"nodes", summary.Nodes,
		"ways", summary.Ways,
		"relations", summary.Relations,
		"points", handler.Points())

	files := make(map[string]string, len(categories))
	for _, c := range categories {
		path := filepath.Join(work, c.Name+CollectionExt)
		if err := writers[c.Name].Close(); err != nil {
			delete(writers, c.Name)
			abort()
			return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "finish collection %s", c.Name)
		}
		delete(writers, c.Name)

		n, err := ValidateCollection(path)
		if err != nil {
			abort()
			return nil, errors.Wrap(errors.ErrCodeFeatureExtraction, err, "validate collection %s", c.Name)
		}
		if n != summary.Features[c.Name] {
			abort()
			return nil, errors.New(errors.ErrCodeFeatureExtraction,
				"collection %s holds %d features, expected %d", c.Name, n, summary.Features[c.Name])
		}
		if n == 0 {
			e.Logger.Warn("category matched no features", "category", c.Name)
		} else {
			e.Logger.Info("extracted features", "category", c.Name, "features", n)
		}
		files[c.Name+CollectionExt] = path
	}
	if skipped := summary.SkippedTotal(); skipped > 0 {
		args := []any{"total", skipped}
		for kind, n := range summary.Skipped {
			args = append(args, string(kind), n)
		}
		e.Logger.Warn("skipped entities with unbuildable geometry", args...)
	}

	rawSummary, err := json.Marshal(summary)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode summary")
	}
	meta := map[string]string{
		metaSummary: string(rawSummary),
		metaRegion:  r.String(),
	}

	entry, err := e.Store.Put(ctx, key, files, meta)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		code := errors.ErrCodeFeatureExtraction
		if stderrors.Is(err, cache.ErrConflict) {
			code = errors.ErrCodeCacheConflict
		}
		return nil, errors.Wrap(code, err, "publish extraction")
	}

	res := &Result{Key: key, Summary: summary, Collections: make(map[string]CollectionRef, len(categories))}
	for _, c := range categories {
		res.Collections[c.Name] = CollectionRef{
			Category: c.Name,
			Path:     entry.Path(c.Name + CollectionExt),
			Features: summary.Features[c.Name],
		}
	}
	return res, nil
}

func shortKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 && len(key) > i+13 {
		return key[:i+13]
	}
	return key
}
