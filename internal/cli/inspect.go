package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/mbtiles"
)

// inspectCommand validates an archive and prints what it contains.
func (c *CLI) inspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <archive.mbtiles>",
		Short: "Validate an MBTiles archive and show its contents",
		Long: `Run the same structural checks applied to freshly generated archives and
print the archive's layout, metadata, layers and per-zoom tile counts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return errors.Wrap(errors.ErrCodeFileNotFound, err, "archive %s", path)
			}

			info, err := mbtiles.Validate(cmd.Context(), path, mbtiles.Expect{})
			if err != nil {
				return errors.Wrap(errors.ErrCodeValidation, err, "inspect %s", path)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printArchiveInfo(info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}

func printArchiveInfo(info *mbtiles.Info) {
	printSuccess("Valid archive %s", StyleHighlight.Render(info.Path))
	printStats([]string{
		fmt.Sprintf("%d tiles", info.Stats.Tiles),
		fmt.Sprintf("zoom %d-%d", info.Stats.MinZoom, info.Stats.MaxZoom),
		formatBytes(info.Size),
	}, false)
	printNewline()

	printKeyValue("Layout", string(info.Layout))
	printKeyValue("Format", info.Format)
	for _, key := range []string{"name", "description", "bounds", "center", "generator"} {
		if v, ok := info.Metadata[key]; ok && v != "" {
			printKeyValue(strings.ToUpper(key[:1])+key[1:], v)
		}
	}
	if len(info.Layers) > 0 {
		printKeyValue("Layers", strings.Join(info.Layers, ", "))
	}
	printKeyValue("Tile size", fmt.Sprintf("avg %s, min %s, max %s",
		formatBytes(int64(info.Stats.AvgBytes)), formatBytes(info.Stats.MinBytes), formatBytes(info.Stats.MaxBytes)))

	if len(info.Stats.PerZoom) > 0 {
		printNewline()
		fmt.Println(zoomTable(info.Stats.PerZoom))
	}
	for _, w := range info.Warnings {
		printWarning("%s", w)
	}
}

func zoomTable(perZoom []mbtiles.ZoomCount) string {
	rows := make([][]string, len(perZoom))
	for i, zc := range perZoom {
		rows[i] = []string{strconv.Itoa(zc.Zoom), strconv.FormatInt(zc.Tiles, 10)}
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Zoom", "Tiles").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return StyleHeader.Padding(0, 1)
			}
			return StyleValue.Padding(0, 1).Align(lipgloss.Right)
		}).
		Render()
}
