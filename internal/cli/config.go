package cli

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/pipeline"
	"github.com/matzehuels/tilecraft/pkg/region"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

// =============================================================================
// Config File
// =============================================================================

// defaultConfigFile is read from the working directory when --config is not given.
const defaultConfigFile = "tilecraft.toml"

// Environment overrides, applied on top of the config file.
const (
	envCacheDir   = "TILECRAFT_CACHE_DIR"
	envRedisAddr  = "TILECRAFT_REDIS_ADDR"
	envTippecanoe = "TILECRAFT_TIPPECANOE"
	envOutputDir  = "TILECRAFT_OUTPUT_DIR"
)

// Config mirrors tilecraft.toml. Pointer fields distinguish "unset" from a
// zero value so that zoom 0 and friends can be configured.
type Config struct {
	Source     string           `toml:"source"`
	Region     RegionConfig     `toml:"region"`
	Features   FeaturesConfig   `toml:"features"`
	Tiles      TilesConfig      `toml:"tiles"`
	Tippecanoe TippecanoeConfig `toml:"tippecanoe"`
	Cache      CacheConfig      `toml:"cache"`
	Output     OutputConfig     `toml:"output"`
}

type RegionConfig struct {
	BBox string `toml:"bbox"`
}

type FeaturesConfig struct {
	Names      []string            `toml:"names"`
	CustomTags map[string][]string `toml:"custom_tags"`
}

type TilesConfig struct {
	MinZoom        *int     `toml:"min_zoom"`
	MaxZoom        *int     `toml:"max_zoom"`
	Quality        string   `toml:"quality"`
	Buffer         *int     `toml:"buffer"`
	Simplification *float64 `toml:"simplification"`
	DropRate       *float64 `toml:"drop_rate"`
	Detail         *int     `toml:"detail"`
}

type TippecanoeConfig struct {
	Binary  string `toml:"binary"`
	Timeout string `toml:"timeout"`
}

type CacheConfig struct {
	Dir       string `toml:"dir"`
	RedisAddr string `toml:"redis_addr"`
}

type OutputConfig struct {
	Dir  string `toml:"dir"`
	Name string `toml:"name"`
}

// loadConfig reads .env, then the config file, then TILECRAFT_* variables.
//
// An explicit path must exist. Without one, tilecraft.toml in the working
// directory is used if present.
func loadConfig(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := &Config{}
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	if _, err := os.Stat(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "config file %s", path)
		}
	} else if err := decodeConfig(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func decodeConfig(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "parse config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return errors.New(errors.ErrCodeInvalidInput, "config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(envCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if v := getenv(envRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := getenv(envTippecanoe); v != "" {
		c.Tippecanoe.Binary = v
	}
	if v := getenv(envOutputDir); v != "" {
		c.Output.Dir = v
	}
}

// =============================================================================
// Resolution into Pipeline Options
// =============================================================================

// timeout returns the configured compiler timeout, or zero for the default.
func (c *Config) timeout() (time.Duration, error) {
	if c.Tippecanoe.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Tippecanoe.Timeout)
	if err != nil || d <= 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "invalid tippecanoe timeout %q", c.Tippecanoe.Timeout)
	}
	return d, nil
}

// cacheDir returns the configured cache directory or the XDG default.
func (c *Config) cacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	return cacheDir()
}

// profile returns a custom profile when any tuning field is set, built on
// top of the configured (or given) quality preset. It returns nil when the
// preset is used unchanged.
func (t TilesConfig) profile(quality string) (*tiles.Profile, error) {
	if t.Buffer == nil && t.Simplification == nil && t.DropRate == nil && t.Detail == nil {
		return nil, nil
	}
	if quality == "" {
		quality = pipeline.DefaultQuality
	}
	p, err := tiles.Preset(quality)
	if err != nil {
		return nil, err
	}
	if t.Buffer != nil {
		p.Buffer = *t.Buffer
	}
	if t.Simplification != nil {
		p.Simplification = *t.Simplification
	}
	if t.DropRate != nil {
		p.DropRate = *t.DropRate
	}
	if t.Detail != nil {
		p.Detail = *t.Detail
	}
	return &p, p.Validate()
}

// runFlags holds the values given on the command line. Empty strings and
// negative zooms mean "not given".
type runFlags struct {
	bbox        string
	features    []string
	source      string
	name        string
	output      string
	description string
	quality     string
	minZoom     int
	maxZoom     int
}

func newRunFlags() runFlags {
	return runFlags{minZoom: -1, maxZoom: -1}
}

// options merges flags over the config into pipeline options.
func (c *Config) options(f runFlags) (pipeline.Options, error) {
	opts := pipeline.Options{
		Source:      firstNonEmpty(f.source, c.Source),
		Features:    c.Features.Names,
		CustomTags:  c.Features.CustomTags,
		Name:        firstNonEmpty(f.name, c.Output.Name),
		Output:      firstNonEmpty(f.output, c.Output.Dir),
		Description: f.description,
		Quality:     firstNonEmpty(f.quality, c.Tiles.Quality),
		MinZoom:     pipeline.DefaultMinZoom,
		MaxZoom:     pipeline.DefaultMaxZoom,
	}
	if len(f.features) > 0 {
		opts.Features = f.features
	}

	bbox := firstNonEmpty(f.bbox, c.Region.BBox)
	if bbox == "" {
		return opts, errors.New(errors.ErrCodeInvalidRegion, "no region given (use --bbox or [region] bbox)")
	}
	r, err := region.Parse(bbox)
	if err != nil {
		return opts, err
	}
	opts.Region = r

	if c.Tiles.MinZoom != nil {
		opts.MinZoom = *c.Tiles.MinZoom
	}
	if c.Tiles.MaxZoom != nil {
		opts.MaxZoom = *c.Tiles.MaxZoom
	}
	if f.minZoom >= 0 {
		opts.MinZoom = f.minZoom
	}
	if f.maxZoom >= 0 {
		opts.MaxZoom = f.maxZoom
	}

	p, err := c.Tiles.profile(opts.Quality)
	if err != nil {
		return opts, err
	}
	opts.Profile = p
	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// describeConfig renders where the effective configuration came from.
func describeConfig(path string) string {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return "defaults"
		}
		path = defaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
