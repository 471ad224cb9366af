// Package pipeline runs Tilecraft end to end for one region.
//
// A run has three stages, executed strictly in order:
//
//  1. Acquire: resolve the source data file through a [source.Provider]
//  2. Extract: write one GeoJSON collection per requested category
//  3. Tiles: compile the non-empty collections into one MBTiles archive
//
// Each stage is invoked at most once per run; retries happen inside the
// tile stage. The first fatal error ends the run. Entities skipped during
// extraction do not; they are counted in the run [Summary].
//
// # Usage
//
//	runner := pipeline.NewRunner(store, memo, nil, logger)
//	opts := pipeline.Options{
//	    Region:   region.Region{West: 7.7, South: 46.3, East: 8.1, North: 46.6},
//	    Features: []string{"rivers", "forest"},
//	    Source:   "alps.osm.pbf",
//	    Output:   "out",
//	}
//	result, err := runner.Execute(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Outputs.Archive)
package pipeline

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/extract"
	"github.com/matzehuels/tilecraft/pkg/feature"
	"github.com/matzehuels/tilecraft/pkg/region"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and Tile Server
// =============================================================================

const (
	// DefaultMinZoom is the lowest zoom level generated.
	DefaultMinZoom = tiles.DefaultMinZoom

	// DefaultMaxZoom is the highest zoom level generated.
	DefaultMaxZoom = tiles.DefaultMaxZoom

	// DefaultQuality is the quality preset used when none is given.
	DefaultQuality = tiles.QualityBalanced

	// DefaultName is the base name of exported outputs.
	DefaultName = "tiles"

	// FeaturesDir is the subdirectory of the output directory that receives
	// the feature collections.
	FeaturesDir = "features"

	// ArchiveExt is the extension of the exported archive.
	ArchiveExt = ".mbtiles"
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for one run.
type Options struct {
	// Extraction
	Region     region.Region       `json:"region" toml:"region"`
	Features   []string            `json:"features" toml:"features"`
	CustomTags map[string][]string `json:"custom_tags,omitempty" toml:"custom_tags"`
	Source     string              `json:"source,omitempty" toml:"source"` // used when the runner has no Provider

	// Tiles
	MinZoom     int            `json:"min_zoom" toml:"min_zoom"`
	MaxZoom     int            `json:"max_zoom" toml:"max_zoom"`
	Quality     string         `json:"quality,omitempty" toml:"quality"`
	Profile     *tiles.Profile `json:"profile,omitempty" toml:"-"` // overrides Quality
	Name        string         `json:"name,omitempty" toml:"name"`
	Description string         `json:"description,omitempty" toml:"description"`

	// Output is the directory outputs are exported to. Empty skips export;
	// results then point into the artifact store.
	Output string `json:"output,omitempty" toml:"output"`

	// Refresh ignores cached extractions and archives.
	Refresh bool `json:"refresh,omitempty" toml:"-"`

	// Logger, if set, replaces the runner's logger for this run.
	Logger *log.Logger `json:"-" toml:"-"`

	categories []feature.Category
	profile    tiles.Profile
	validated  bool
}

// ValidateAndSetDefaults checks all fields and applies defaults. It is
// idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := o.Region.Validate(); err != nil {
		return err
	}

	cats, err := feature.Resolve(o.Features, o.CustomTags)
	if err != nil {
		return err
	}

	if o.MinZoom == 0 && o.MaxZoom == 0 {
		o.MaxZoom = DefaultMaxZoom
	}
	if err := errors.ValidateZoomRange(o.MinZoom, o.MaxZoom); err != nil {
		return err
	}

	if o.Quality == "" {
		o.Quality = DefaultQuality
	}
	profile, err := tiles.Preset(o.Quality)
	if o.Profile != nil {
		profile, err = *o.Profile, o.Profile.Validate()
	}
	if err != nil {
		return err
	}

	if o.Name == "" {
		o.Name = DefaultName
	}
	if err := errors.ValidateOutputName(o.Name); err != nil {
		return err
	}

	o.categories = cats
	o.profile = profile
	o.validated = true
	return nil
}

// Categories returns the resolved categories. Valid after
// ValidateAndSetDefaults.
func (o *Options) Categories() []feature.Category {
	return o.categories
}

// TileProfile returns the initial quality profile. Valid after
// ValidateAndSetDefaults.
func (o *Options) TileProfile() tiles.Profile {
	return o.profile
}

// =============================================================================
// Result
// =============================================================================

// Result contains the outputs of a run. A run that fails during tile
// generation still returns a Result with its collections.
type Result struct {
	RunID       uuid.UUID                        `json:"run_id"`
	Region      region.Region                    `json:"region"`
	Source      string                           `json:"source"`
	Collections map[string]extract.CollectionRef `json:"collections"`
	Archive     *tiles.Archive                   `json:"archive,omitempty"`
	Outputs     Outputs                          `json:"outputs"`
	Summary     Summary                          `json:"summary"`
	Stats       Stats                            `json:"stats"`
	CacheInfo   CacheInfo                        `json:"cache_info"`
}

// Outputs lists exported files. Empty when export was skipped.
type Outputs struct {
	Archive  string            `json:"archive,omitempty"`
	Features map[string]string `json:"features,omitempty"`
}

// Summary aggregates what a run did and what it skipped.
type Summary struct {
	Features     map[string]int                 `json:"features"`
	Empty        []string                       `json:"empty,omitempty"`
	Skipped      map[feature.BuildErrorKind]int `json:"skipped,omitempty"`
	TileAttempts int                            `json:"tile_attempts"`
	Retries      int                            `json:"retries"`
	Degradations int                            `json:"degradations"`
	Profile      *tiles.Profile                 `json:"profile,omitempty"`
	Warnings     []string                       `json:"warnings,omitempty"`
}

// TotalFeatures returns the number of features over all categories.
func (s Summary) TotalFeatures() int {
	n := 0
	for _, c := range s.Features {
		n += c
	}
	return n
}

// Stats contains run timings and source counts.
type Stats struct {
	Nodes       int64         `json:"nodes"`
	Ways        int64         `json:"ways"`
	Relations   int64         `json:"relations"`
	AcquireTime time.Duration `json:"acquire_time"`
	ExtractTime time.Duration `json:"extract_time"`
	TilesTime   time.Duration `json:"tiles_time"`
	ExportTime  time.Duration `json:"export_time"`
	Total       time.Duration `json:"total"`
}

// CacheInfo tracks which stages were served from the artifact store.
type CacheInfo struct {
	ExtractHit bool `json:"extract_hit"`
	TilesHit   bool `json:"tiles_hit"`
}
