package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/buildinfo"
	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "tilecraft"

	// storeDir and memoDir are the cache subdirectories for artifacts and
	// source fingerprints.
	storeDir = "store"
	memoDir  = "memo"

	// redisPrefix namespaces fingerprint memo keys in a shared Redis.
	redisPrefix = "tilecraft:"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cfg        *Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), cfg: &Config{}}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Tilecraft turns OpenStreetMap extracts into vector tiles",
		Long:         `Tilecraft extracts feature categories (rivers, forests, roads, ...) from an OpenStreetMap file for a bounding box and compiles them into a single MBTiles archive with tippecanoe.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.Logger.Debug("configuration loaded", "from", describeConfig(c.configPath))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./"+defaultConfigFile+" if present)")

	root.AddCommand(c.runCommand())
	root.AddCommand(c.extractCommand())
	root.AddCommand(c.tilesCommand())
	root.AddCommand(c.featuresCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner for CLI use. The returned func
// releases the runner's resources and must always be called.
func (c *CLI) newRunner(ctx context.Context, noCache bool) (*pipeline.Runner, func(), error) {
	timeout, err := c.cfg.timeout()
	if err != nil {
		return nil, nil, err
	}

	store, memo, keyer, cleanup, err := c.openCache(ctx, noCache)
	if err != nil {
		return nil, nil, err
	}

	runner := pipeline.NewRunner(store, memo, keyer, c.Logger)
	if c.cfg.Tippecanoe.Binary != "" {
		runner.Binary = c.cfg.Tippecanoe.Binary
	}
	runner.Timeout = timeout
	return runner, cleanup, nil
}

// openCache opens the artifact store and the fingerprint memo.
//
// With noCache, a throwaway store is used and nothing is memoised. With a
// Redis address configured, fingerprints are shared through Redis; their
// keys are scoped by host since they include local file paths.
func (c *CLI) openCache(ctx context.Context, noCache bool) (*cache.Store, cache.Cache, cache.Keyer, func(), error) {
	keyer := cache.NewDefaultKeyer()
	if noCache {
		store, cleanup, err := pipeline.TempStore()
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, cache.NewNullCache(), keyer, cleanup, nil
	}

	dir, err := c.cfg.cacheDir()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, err := cache.NewStore(filepath.Join(dir, storeDir))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var memo cache.Cache
	if addr := c.cfg.Cache.RedisAddr; addr != "" {
		rc, err := cache.NewRedisCache(ctx, addr, redisPrefix)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		memo, keyer = rc, cache.NewScopedKeyer(keyer, host)
		c.Logger.Debug("using redis fingerprint memo", "addr", addr, "scope", host)
	} else {
		fc, err := cache.NewFileCache(filepath.Join(dir, memoDir))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		memo = fc
	}
	return store, memo, keyer, func() { memo.Close() }, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/tilecraft/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
