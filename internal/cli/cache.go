package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
		Long: `Manage the cache of extracted collections and generated archives.

Artifacts live under <dir>/store, source fingerprints under <dir>/memo.`,
	}

	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheInfoCommand())
	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePruneCommand())

	return cmd
}

// openStore opens the artifact store without creating the cache directory
// when it does not exist yet. It returns nil in that case.
func (c *CLI) openStore() (*cache.Store, string, error) {
	dir, err := c.cfg.cacheDir()
	if err != nil {
		return nil, "", fmt.Errorf("get cache dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, storeDir)); os.IsNotExist(err) {
		return nil, dir, nil
	}
	store, err := cache.NewStore(filepath.Join(dir, storeDir))
	return store, dir, err
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.cfg.cacheDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// cacheInfoCommand creates the "cache info" subcommand.
func (c *CLI) cacheInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cached entries and their size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := c.openStore()
			if err != nil {
				return err
			}
			if store == nil {
				printInfo("Cache is empty")
				printDetail("Directory: %s", dir)
				return nil
			}
			u, err := store.Usage()
			if err != nil {
				return err
			}

			printKeyValue("Directory", dir)
			for _, kind := range []string{cache.KindExtract, cache.KindTiles} {
				printKeyValue(kind, strconv.Itoa(u.Entries[kind]))
			}
			printKeyValue("Size", formatBytes(u.Bytes))
			if c.cfg.Cache.RedisAddr != "" {
				printKeyValue("Memo", "redis://"+c.cfg.Cache.RedisAddr)
			}
			return nil
		},
	}
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached artifacts and fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := c.openStore()
			if err != nil {
				return err
			}
			if store == nil {
				printInfo("Cache is empty")
				return nil
			}
			u, err := store.Usage()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(dir, memoDir)); err != nil {
				return err
			}

			n := 0
			for _, v := range u.Entries {
				n += v
			}
			printSuccess("Cleared %d cached entries (%s)", n, formatBytes(u.Bytes))
			printDetail("Directory: %s", dir)
			return nil
		},
	}
}

// cachePruneCommand creates the "cache prune" subcommand.
func (c *CLI) cachePruneCommand() *cobra.Command {
	var maxSize string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove least recently used entries above a size limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseSize(maxSize)
			if err != nil {
				return err
			}
			store, _, err := c.openStore()
			if err != nil {
				return err
			}
			if store == nil {
				printInfo("Cache is empty")
				return nil
			}
			removed, err := store.Prune(limit)
			if err != nil {
				return err
			}
			printSuccess("Pruned %d entries (limit %s)", removed, formatBytes(limit))
			return nil
		},
	}

	cmd.Flags().StringVar(&maxSize, "max-size", "10GiB", "size to prune down to (e.g. 500MB, 2GiB)")

	return cmd
}

// parseSize parses a byte size with an optional decimal (KB, MB, GB) or
// binary (KiB, MiB, GiB) unit.
func parseSize(s string) (int64, error) {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"KiB", 1 << 10}, {"MiB", 1 << 20}, {"GiB", 1 << 30}, {"TiB", 1 << 40},
		{"KB", 1e3}, {"MB", 1e6}, {"GB", 1e9}, {"TB", 1e12},
		{"B", 1},
	}
	s = strings.TrimSpace(s)
	mult := int64(1)
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "invalid size %q", s)
	}
	return int64(v * float64(mult)), nil
}
