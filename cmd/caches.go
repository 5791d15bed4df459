package cmd

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/sitecache/internal/audit"
)

var purgeStale bool

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Inspect and purge cache partitions",
}

var cachesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache partitions",
	RunE:  runCachesList,
}

var cachesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "List the entries stored in a cache partition",
	Args:  cobra.ExactArgs(1),
	RunE:  runCachesShow,
}

var cachesPurgeCmd = &cobra.Command{
	Use:   "purge [name...]",
	Short: "Delete cache partitions",
	Long:  `Deletes the named partitions, or with --stale every partition the current config does not expect.`,
	RunE:  runCachesPurge,
}

func runCachesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Keys(cmd.Context())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No caches. Run `sitecache install` to precache the manifest.")
		return nil
	}

	expected := cfg.ExpectedCaches()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENTRIES\tSTATUS")
	for _, name := range names {
		p, err := store.Open(cmd.Context(), name)
		if err != nil {
			return err
		}
		entries, err := p.Entries(cmd.Context())
		if err != nil {
			return err
		}
		status := "current"
		if !slices.Contains(expected, name) {
			status = "stale"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(entries), status)
	}
	return w.Flush()
}

func runCachesShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	name := args[0]
	ok, err := store.Has(cmd.Context(), name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cache %q not found", name)
	}
	p, err := store.Open(cmd.Context(), name)
	if err != nil {
		return err
	}
	entries, err := p.Entries(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tURL\tSTATUS\tSIZE\tSTORED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", e.Method, e.URL, e.Status, len(e.Body), e.StoredAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCachesPurge(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !purgeStale {
		return fmt.Errorf("name a cache to purge or pass --stale")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	trail, closeAudit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	targets := args
	if purgeStale {
		names, err := store.Keys(cmd.Context())
		if err != nil {
			return err
		}
		expected := cfg.ExpectedCaches()
		for _, name := range names {
			if !slices.Contains(expected, name) && !slices.Contains(targets, name) {
				targets = append(targets, name)
			}
		}
	}

	for _, name := range targets {
		ok, err := store.Delete(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("purging %s: %w", name, err)
		}
		if ok {
			fmt.Fprintf(os.Stderr, "Purged %s\n", name)
			if trail != nil {
				if err := trail.Log(cmd.Context(), audit.Entry{Event: "cli", Action: audit.ActionPurged, Cache: name}); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				}
			}
		} else {
			fmt.Fprintf(os.Stderr, "Warning: cache %s not found\n", name)
		}
	}
	return nil
}

func init() {
	cachesPurgeCmd.Flags().BoolVar(&purgeStale, "stale", false, "Purge every partition the config does not expect")
	cachesCmd.AddCommand(cachesListCmd, cachesShowCmd, cachesPurgeCmd)
	rootCmd.AddCommand(cachesCmd)
}
