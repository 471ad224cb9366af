package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/extract"
	"github.com/matzehuels/tilecraft/pkg/pipeline"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

// tilesCommand creates the tiles command: tile generation from existing
// GeoJSON collections.
func (c *CLI) tilesCommand() *cobra.Command {
	flags := newRunFlags()
	var (
		layers  []string
		noCache bool
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Compile existing GeoJSON collections into an MBTiles archive",
		Long: `Compile GeoJSON feature collections into a vector tile archive. Each
--layer names one collection; the name becomes the layer name in the archive.
Empty collections are left out of the archive.`,
		Example: `  tilecraft tiles --bbox 7.7,46.3,8.1,46.6 --layer rivers=out/features/rivers.geojson -o out`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			job, err := c.tileJob(flags, layers)
			if err != nil {
				return err
			}

			store, _, keyer, cleanup, err := c.openCache(ctx, noCache)
			if err != nil {
				return err
			}
			defer cleanup()

			timeout, err := c.cfg.timeout()
			if err != nil {
				return err
			}

			o := tiles.New(nil, store, keyer, c.Logger)
			if c.cfg.Tippecanoe.Binary != "" {
				o.Binary = c.cfg.Tippecanoe.Binary
			}
			if timeout > 0 {
				o.Timeout = timeout
			}
			o.Refresh = refresh

			spinner := c.startSpinner(cmd, "Compiling tiles...")
			if spinner != nil {
				o.OnProgress = func(p tiles.Progress) { spinner.SetMessage(progressMessage(p)) }
			}
			arc, err := o.Generate(ctx, job)
			if spinner != nil {
				spinner.Stop()
			}
			if err != nil {
				return err
			}

			printSuccess("Generated %d tiles", arc.Tiles)
			printStats([]string{
				fmt.Sprintf("%d layers", len(arc.Layers)),
				fmt.Sprintf("zoom %d-%d", arc.MinZoom, arc.MaxZoom),
				formatBytes(arc.Size),
			}, arc.CacheHit)
			printKeyValue("Profile", arc.Profile.String())
			if len(arc.Excluded) > 0 {
				printWarning("Left out empty layers: %s", strings.Join(arc.Excluded, ", "))
			}
			for _, w := range arc.Warnings {
				printWarning("%s", w)
			}

			path := arc.Path
			if out := firstNonEmpty(flags.output, c.cfg.Output.Dir); out != "" {
				if path, err = pipeline.ExportArchive(out, job.Name, arc.Path); err != nil {
					return err
				}
			} else if noCache {
				printWarning("The archive is discarded with --no-cache; use --output to keep it")
				return nil
			}
			printFile(path)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.bbox, "bbox", "", "bounding box as west,south,east,north")
	f.StringArrayVarP(&layers, "layer", "l", nil, "layer as name=path.geojson (repeatable)")
	f.StringVar(&flags.name, "name", "", "base name of the exported archive")
	f.StringVarP(&flags.output, "output", "o", "", "directory to export the archive to")
	f.StringVar(&flags.description, "description", "", "archive description written to its metadata")
	f.IntVar(&flags.minZoom, "min-zoom", -1, "minimum zoom level")
	f.IntVar(&flags.maxZoom, "max-zoom", -1, "maximum zoom level")
	f.StringVarP(&flags.quality, "quality", "q", "", "quality profile: "+strings.Join(tiles.PresetNames(), ", "))
	f.BoolVar(&noCache, "no-cache", false, "use a throwaway cache")
	f.BoolVar(&refresh, "refresh", false, "ignore a cached archive")

	return cmd
}

// tileJob builds a job from flags and config. Layer files are checked and
// their features counted up front.
func (c *CLI) tileJob(flags runFlags, layers []string) (tiles.Job, error) {
	if len(layers) == 0 {
		return tiles.Job{}, errors.New(errors.ErrCodeInvalidInput, "no layers given (use --layer name=path)")
	}
	opts, err := c.cfg.options(flags)
	if err != nil {
		return tiles.Job{}, err
	}

	profile := opts.Profile
	if profile == nil {
		p, err := tiles.Preset(firstNonEmpty(opts.Quality, pipeline.DefaultQuality))
		if err != nil {
			return tiles.Job{}, err
		}
		profile = &p
	}

	job := tiles.Job{
		Region:      opts.Region,
		MinZoom:     opts.MinZoom,
		MaxZoom:     opts.MaxZoom,
		Profile:     *profile,
		Name:        firstNonEmpty(opts.Name, pipeline.DefaultName),
		Description: opts.Description,
	}
	for _, spec := range layers {
		l, err := parseLayer(spec)
		if err != nil {
			return tiles.Job{}, err
		}
		job.Layers = append(job.Layers, l)
	}
	return job, job.Validate()
}

// parseLayer parses "name=path" and counts the collection's features.
func parseLayer(spec string) (tiles.Layer, error) {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return tiles.Layer{}, errors.New(errors.ErrCodeInvalidInput, "invalid layer %q (want name=path)", spec)
	}
	if _, err := os.Stat(path); err != nil {
		return tiles.Layer{}, errors.Wrap(errors.ErrCodeFileNotFound, err, "layer %s", name)
	}
	n, err := extract.ValidateCollection(path)
	if err != nil {
		return tiles.Layer{}, errors.Wrap(errors.ErrCodeValidation, err, "layer %s", name)
	}
	return tiles.Layer{Name: name, Path: path, Features: n}, nil
}
