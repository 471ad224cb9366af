package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/feature"
)

// featuresCommand lists the built-in feature categories.
func (c *CLI) featuresCommand() *cobra.Command {
	var (
		pick  bool
		group string
	)

	cmd := &cobra.Command{
		Use:   "features",
		Short: "List the built-in feature categories",
		Long: `List the built-in feature categories and the OpenStreetMap tags they
match. With --pick, choose categories interactively and print them in a form
ready for --features or tilecraft.toml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pick {
				names, err := runCategoryPicker(c.cfg.Features.Names)
				if err != nil {
					return err
				}
				if names == nil {
					printInfo("No categories selected")
					return nil
				}
				printSelection(names)
				return nil
			}

			groups := groupCategories(feature.Builtin())
			if group != "" {
				cats, ok := groups.byName[group]
				if !ok {
					return errors.New(errors.ErrCodeInvalidCategory, "unknown group %q (valid: %s)", group, strings.Join(groups.order, ", "))
				}
				printGroup(group, cats)
				return nil
			}
			for i, g := range groups.order {
				if i > 0 {
					printNewline()
				}
				printGroup(g, groups.byName[g])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pick, "pick", false, "choose categories interactively")
	cmd.Flags().StringVar(&group, "group", "", "only list one group")

	return cmd
}

type categoryGroups struct {
	order  []string
	byName map[string][]feature.Category
}

// groupCategories groups categories, keeping the order groups first appear in.
func groupCategories(cats []feature.Category) categoryGroups {
	g := categoryGroups{byName: make(map[string][]feature.Category)}
	for _, c := range cats {
		if _, ok := g.byName[c.Group]; !ok {
			g.order = append(g.order, c.Group)
		}
		g.byName[c.Group] = append(g.byName[c.Group], c)
	}
	return g
}

func printGroup(name string, cats []feature.Category) {
	fmt.Println(StyleTitle.Render(name))
	for _, c := range cats {
		printKeyValue("  "+c.Name, ruleSummary(c, 60))
	}
}

func printSelection(names []string) {
	printSuccess("Selected %d categories", len(names))
	printNewline()
	printKeyValue("Flag", "--features "+strings.Join(names, ","))
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	printKeyValue("Config", "[features] names = ["+strings.Join(quoted, ", ")+"]")
}
