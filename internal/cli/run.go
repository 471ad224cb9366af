package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/observability"
	"github.com/matzehuels/tilecraft/pkg/pipeline"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

// runOptions holds flags for the run command.
type runOptions struct {
	flags       runFlags
	features    string
	noCache     bool
	refresh     bool
	metricsFile string
}

// runCommand creates the run command: extraction and tile generation in one go.
func (c *CLI) runCommand() *cobra.Command {
	opts := runOptions{flags: newRunFlags()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract features and compile them into an MBTiles archive",
		Long: `Run the full pipeline for one region: extract the requested feature
categories from an OpenStreetMap file and compile them into a vector tile
archive with tippecanoe.

Results are cached by source content, region, categories and tile settings;
repeating a run returns the cached archive.`,
		Example: `  tilecraft run --bbox 7.7,46.3,8.1,46.6 --features rivers,forest --source alps.osm.pbf
  tilecraft run --config tilecraft.toml --output dist --quality fast`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.flags.features = splitList(opts.features)
			return c.runPipeline(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.flags.bbox, "bbox", "", "bounding box as west,south,east,north")
	f.StringVar(&opts.features, "features", "", "comma-separated feature categories (see 'tilecraft features')")
	f.StringVar(&opts.flags.source, "source", "", "OpenStreetMap source file (.osm or .osm.pbf)")
	f.StringVar(&opts.flags.name, "name", "", "base name of the exported archive (default \""+pipeline.DefaultName+"\")")
	f.StringVarP(&opts.flags.output, "output", "o", "", "directory to export the archive and collections to")
	f.StringVar(&opts.flags.description, "description", "", "archive description written to its metadata")
	f.IntVar(&opts.flags.minZoom, "min-zoom", -1, fmt.Sprintf("minimum zoom level (default %d)", pipeline.DefaultMinZoom))
	f.IntVar(&opts.flags.maxZoom, "max-zoom", -1, fmt.Sprintf("maximum zoom level (default %d)", pipeline.DefaultMaxZoom))
	f.StringVarP(&opts.flags.quality, "quality", "q", "", "quality profile: "+strings.Join(tiles.PresetNames(), ", ")+" (default \""+pipeline.DefaultQuality+"\")")
	f.BoolVar(&opts.noCache, "no-cache", false, "use a throwaway cache for this run")
	f.BoolVar(&opts.refresh, "refresh", false, "ignore cached results and regenerate them")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

func (c *CLI) runPipeline(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()

	popts, err := c.cfg.options(opts.flags)
	if err != nil {
		return err
	}
	popts.Refresh = opts.refresh
	popts.Logger = c.Logger

	finish := c.setupMetrics(opts.metricsFile)
	defer finish()

	runner, cleanup, err := c.newRunner(ctx, opts.noCache)
	if err != nil {
		return err
	}
	defer cleanup()

	spinner := c.startSpinner(cmd, "Extracting features...")
	runner.OnProgress = func(p tiles.Progress) {
		if spinner != nil {
			spinner.SetMessage(progressMessage(p))
		}
	}

	result, err := runner.Execute(ctx, popts)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if result != nil {
			printWarning("Run failed after extraction; the collections were kept")
			printCollections(result)
		}
		return err
	}

	printSuccess("Generated %s", StyleHighlight.Render(result.Archive.Path))
	printRunSummary(result)
	return nil
}

// startSpinner returns a running spinner, or nil when debug logging is on
// and would interleave with it.
func (c *CLI) startSpinner(cmd *cobra.Command, message string) *Spinner {
	if c.Logger.GetLevel() <= log.DebugLevel {
		return nil
	}
	s := newSpinnerWithContext(cmd.Context(), message)
	s.Start()
	return s
}

func progressMessage(p tiles.Progress) string {
	if p.Percent >= 0 {
		return fmt.Sprintf("Compiling tiles: %s %.0f%%", p.Stage, p.Percent)
	}
	return fmt.Sprintf("Compiling tiles: %s", p.Stage)
}

// setupMetrics installs Prometheus hooks on a private registry when path is
// set. The returned func writes the textfile and resets the hooks.
func (c *CLI) setupMetrics(path string) func() {
	if path == "" {
		return func() {}
	}
	reg := prometheus.NewRegistry()
	observability.NewPrometheus(reg).Register()
	return func() {
		defer observability.Reset()
		if err := observability.WriteTextfile(reg, path); err != nil {
			c.Logger.Warn("failed to write metrics", "path", path, "err", err)
			return
		}
		c.Logger.Debug("metrics written", "path", path)
	}
}

// =============================================================================
// Result Output
// =============================================================================

func printRunSummary(r *pipeline.Result) {
	printStats([]string{
		fmt.Sprintf("%d features", r.Summary.TotalFeatures()),
		fmt.Sprintf("%d layers", len(r.Archive.Layers)),
		fmt.Sprintf("%d tiles", r.Archive.Tiles),
		formatBytes(r.Archive.Size),
	}, r.CacheInfo.TilesHit)

	printKeyValue("Region", r.Region.String())
	printKeyValue("Zoom", fmt.Sprintf("%d-%d", r.Archive.MinZoom, r.Archive.MaxZoom))
	printKeyValue("Profile", r.Archive.Profile.String())
	if r.Summary.TileAttempts > 0 {
		printKeyValue("Attempts", fmt.Sprintf("%d (%d retries, %d degradations)",
			r.Summary.TileAttempts, r.Summary.Retries, r.Summary.Degradations))
	}
	printKeyValue("Duration", r.Stats.Total.Round(time.Millisecond).String())

	if len(r.Summary.Empty) > 0 {
		printWarning("No features for: %s", strings.Join(r.Summary.Empty, ", "))
	}
	if n := skippedTotal(r.Summary); n > 0 {
		printWarning("Skipped %d entities with unusable geometry", n)
		for kind, count := range r.Summary.Skipped {
			printDetail("%s: %d", kind, count)
		}
	}
	for _, w := range r.Summary.Warnings {
		printWarning("%s", w)
	}

	if r.Outputs.Archive != "" {
		printNewline()
		printFile(r.Outputs.Archive)
		for _, name := range sortedKeys(r.Outputs.Features) {
			printFile(r.Outputs.Features[name])
		}
		printNewline()
		printNextStep("Preview", "tilecraft serve "+r.Outputs.Archive)
	}
}

func printCollections(r *pipeline.Result) {
	if len(r.Outputs.Features) > 0 {
		for _, name := range sortedKeys(r.Outputs.Features) {
			printFile(r.Outputs.Features[name])
		}
		return
	}
	for _, name := range sortedKeys(r.Collections) {
		ref := r.Collections[name]
		printDetail("%s: %d features (%s)", name, ref.Features, ref.Path)
	}
}

func skippedTotal(s pipeline.Summary) int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
