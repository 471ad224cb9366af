package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/extract"
	"github.com/matzehuels/tilecraft/pkg/observability"
	"github.com/matzehuels/tilecraft/pkg/source"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

// Runner executes runs against an artifact store.
//
// The Runner holds no per-run state. Multiple goroutines can use the same
// Runner with different options; the store keeps concurrent runs apart.
type Runner struct {
	Store *cache.Store
	Keyer cache.Keyer
	// Memo memoises source fingerprints. Nil disables memoisation.
	Memo   cache.Cache
	Logger *log.Logger

	// Provider resolves the source file. Nil means Options.Source is a local
	// file path.
	Provider source.Provider

	// Compiler runs the tile compiler. Nil means tiles.ExecRunner.
	Compiler tiles.Runner
	Binary   string
	Timeout  time.Duration

	// WorkDir holds in-progress files. Empty means the system temp dir.
	WorkDir string

	// OnProgress receives tile compiler progress.
	OnProgress func(tiles.Progress)

	// configure, if set, adjusts each run's orchestrator.
	configure func(*tiles.Orchestrator)
}

// NewRunner creates a runner over store. If keyer is nil, a DefaultKeyer is
// used. If memo is nil, source fingerprints are recomputed every run.
func NewRunner(store *cache.Store, memo cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Store:  store,
		Keyer:  keyer,
		Memo:   memo,
		Logger: logger,
		Binary: tiles.DefaultBinary,
	}
}

// Execute runs acquire → extract → tiles → export.
//
// On a tile generation failure the returned Result still carries the
// extracted collections (exported when Output is set) together with the
// error.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	res, err := r.execute(ctx, opts)
	if res != nil {
		res.Stats.Total = time.Since(start)
	}
	observability.Pipeline().OnRunComplete(ctx, time.Since(start), err)
	return res, err
}

func (r *Runner) execute(ctx context.Context, opts Options) (*Result, error) {
	if r.Store == nil {
		return nil, errors.New(errors.ErrCodeInternal, "runner has no artifact store")
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	res := &Result{RunID: uuid.New(), Region: opts.Region}
	logger := r.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	}
	logger = logger.With("run", res.RunID.String()[:8])

	// Stage 1: Acquire
	acquireStart := time.Now()
	path, err := r.provider(opts).Acquire(ctx, opts.Region)
	if err != nil {
		return nil, fmt.Errorf("acquire source: %w", err)
	}
	res.Source = path
	res.Stats.AcquireTime = time.Since(acquireStart)

	// Stage 2: Extract
	ext, err := r.extract(ctx, logger, opts, path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	res.Collections = ext.Collections
	res.CacheInfo.ExtractHit = ext.CacheHit
	res.Stats.ExtractTime = ext.Duration
	res.Stats.Nodes = ext.Summary.Nodes
	res.Stats.Ways = ext.Summary.Ways
	res.Stats.Relations = ext.Summary.Relations
	res.Summary.Features = ext.Summary.Features
	res.Summary.Skipped = ext.Summary.Skipped
	res.Summary.Empty = ext.Empty()

	logger.Info("extracted features",
		"features", res.Summary.TotalFeatures(),
		"categories", len(res.Collections),
		"cached", ext.CacheHit,
		"duration", ext.Duration)

	if opts.Output != "" {
		exportStart := time.Now()
		feats, err := ExportCollections(opts.Output, res.Collections)
		res.Stats.ExportTime += time.Since(exportStart)
		if err != nil {
			return res, fmt.Errorf("export: %w", err)
		}
		res.Outputs.Features = feats
	}

	// Stage 3: Tiles
	arc, err := r.tiles(ctx, logger, opts, ext)
	if arc != nil {
		res.Archive = arc
		res.CacheInfo.TilesHit = arc.CacheHit
		res.Stats.TilesTime = arc.Duration
		res.Summary.TileAttempts = arc.Attempts
		res.Summary.Retries = arc.Retries
		res.Summary.Degradations = arc.Degradations
		res.Summary.Profile = &arc.Profile
		res.Summary.Warnings = append(res.Summary.Warnings, arc.Warnings...)
	}
	if err != nil {
		var ge *tiles.GenerationError
		if stderrors.As(err, &ge) {
			res.Summary.TileAttempts = ge.Attempts
			res.Summary.Retries = ge.Retries
			res.Summary.Degradations = ge.Degradations
		}
		return res, fmt.Errorf("tiles: %w", err)
	}

	if opts.Output != "" {
		exportStart := time.Now()
		out, err := ExportArchive(opts.Output, opts.Name, arc.Path)
		res.Stats.ExportTime += time.Since(exportStart)
		if err != nil {
			return res, fmt.Errorf("export: %w", err)
		}
		res.Outputs.Archive = out
	}
	return res, nil
}

func (r *Runner) provider(opts Options) source.Provider {
	if r.Provider != nil {
		return r.Provider
	}
	return source.LocalFile{Path: opts.Source}
}

func (r *Runner) extract(ctx context.Context, logger *log.Logger, opts Options, path string) (*extract.Result, error) {
	x := extract.New(r.Store, r.Keyer, logger)
	x.Fingerprinter = source.NewFingerprinter(r.Memo, r.Keyer)
	x.WorkDir = r.WorkDir
	x.Refresh = opts.Refresh
	return x.Extract(ctx, opts.Region, opts.Categories(), path)
}

func (r *Runner) tiles(ctx context.Context, logger *log.Logger, opts Options, ext *extract.Result) (*tiles.Archive, error) {
	job := tiles.Job{
		Region:      opts.Region,
		MinZoom:     opts.MinZoom,
		MaxZoom:     opts.MaxZoom,
		Profile:     opts.TileProfile(),
		Name:        opts.Name,
		Description: opts.Description,
	}
	for _, c := range opts.Categories() {
		ref := ext.Collections[c.Name]
		job.Layers = append(job.Layers, tiles.Layer{Name: c.Name, Path: ref.Path, Features: ref.Features})
	}
	if len(ext.Empty()) > 0 {
		logger.Warn("categories without features are left out of the archive", "categories", ext.Empty())
	}

	o := tiles.New(r.Compiler, r.Store, r.Keyer, logger)
	if r.Binary != "" {
		o.Binary = r.Binary
	}
	if r.Timeout > 0 {
		o.Timeout = r.Timeout
	}
	o.WorkDir = r.WorkDir
	o.Refresh = opts.Refresh
	o.OnProgress = r.OnProgress
	if r.configure != nil {
		r.configure(o)
	}
	return o.Generate(ctx, job)
}

// TempStore creates a store in a fresh temporary directory, for runs that
// must not touch the persistent cache. The returned func removes it.
func TempStore() (*cache.Store, func(), error) {
	dir, err := os.MkdirTemp("", "tilecraft-nocache-*")
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.NewStore(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	return store, func() { os.RemoveAll(dir) }, nil
}
