package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/extract"
	"github.com/matzehuels/tilecraft/pkg/pipeline"
	"github.com/matzehuels/tilecraft/pkg/source"
)

// extractCommand creates the extract command: feature extraction only.
func (c *CLI) extractCommand() *cobra.Command {
	flags := newRunFlags()
	var (
		features string
		noCache  bool
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract feature collections without generating tiles",
		Long: `Extract the requested feature categories from an OpenStreetMap file and
write one GeoJSON collection per category. Collections are cached like in a
full run, so a later 'tilecraft run' with the same inputs reuses them.`,
		Example: `  tilecraft extract --bbox 7.7,46.3,8.1,46.6 --features rivers,lakes --source alps.osm.pbf -o out`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags.features = splitList(features)

			opts, err := c.cfg.options(flags)
			if err != nil {
				return err
			}
			if err := opts.ValidateAndSetDefaults(); err != nil {
				return err
			}

			path, err := source.LocalFile{Path: opts.Source}.Acquire(ctx, opts.Region)
			if err != nil {
				return err
			}

			store, memo, keyer, cleanup, err := c.openCache(ctx, noCache)
			if err != nil {
				return err
			}
			defer cleanup()

			x := extract.New(store, keyer, c.Logger)
			x.Fingerprinter = source.NewFingerprinter(memo, keyer)
			x.Refresh = refresh

			prog := newProgress(c.Logger)
			spinner := c.startSpinner(cmd, "Extracting features...")
			res, err := x.Extract(ctx, opts.Region, opts.Categories(), path)
			if spinner != nil {
				spinner.Stop()
			}
			if err != nil {
				return err
			}
			prog.done("extraction finished", "categories", len(res.Collections))

			printSuccess("Extracted %d categories", len(res.Collections))
			printStats([]string{
				fmt.Sprintf("%d nodes", res.Summary.Nodes),
				fmt.Sprintf("%d ways", res.Summary.Ways),
				fmt.Sprintf("%d relations", res.Summary.Relations),
			}, res.CacheHit)
			for _, name := range sortedKeys(res.Collections) {
				printKeyValue(name, fmt.Sprintf("%d features", res.Collections[name].Features))
			}
			if n := res.Summary.SkippedTotal(); n > 0 {
				printWarning("Skipped %d entities with unusable geometry", n)
			}

			if opts.Output == "" {
				if noCache {
					printWarning("Collections are discarded with --no-cache; use --output to keep them")
					return nil
				}
				for _, name := range sortedKeys(res.Collections) {
					printFile(res.Collections[name].Path)
				}
				return nil
			}
			out, err := pipeline.ExportCollections(opts.Output, res.Collections)
			if err != nil {
				return err
			}
			printNewline()
			for _, name := range sortedKeys(out) {
				printFile(out[name])
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.bbox, "bbox", "", "bounding box as west,south,east,north")
	f.StringVar(&features, "features", "", "comma-separated feature categories")
	f.StringVar(&flags.source, "source", "", "OpenStreetMap source file (.osm or .osm.pbf)")
	f.StringVarP(&flags.output, "output", "o", "", "directory to export the collections to")
	f.BoolVar(&noCache, "no-cache", false, "use a throwaway cache")
	f.BoolVar(&refresh, "refresh", false, "ignore a cached extraction")

	return cmd
}
