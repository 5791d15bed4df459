package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/sitecache/internal/audit"
)

var (
	auditLimit  int
	auditAction string
	auditCache  string
	auditPrune  time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the cache lifecycle audit trail",
	Long:  `Lists installs, activations, evictions and purges, newest first. With --prune, deletes entries older than the given age instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		trail, closeAudit, err := openAudit(cfg)
		if err != nil {
			return err
		}
		defer closeAudit()
		if trail == nil {
			return fmt.Errorf("audit trail is disabled (audit_path is empty)")
		}

		if auditPrune > 0 {
			n, err := trail.DeleteBefore(cmd.Context(), time.Now().Add(-auditPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Pruned %d entries\n", n)
			return nil
		}

		entries, err := trail.Query(cmd.Context(), audit.QueryFilter{
			Action: audit.Action(auditAction),
			Cache:  auditCache,
			Limit:  auditLimit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tACTION\tCACHE\tDETAIL")
		for _, e := range entries {
			cache := e.Cache
			if cache == "" {
				cache = "-"
			}
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Event, e.Action, cache, detail)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to show")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "Only show this action (e.g. evicted, purged)")
	auditCmd.Flags().StringVar(&auditCache, "cache", "", "Only show entries for this cache")
	auditCmd.Flags().DurationVar(&auditPrune, "prune", 0, "Delete entries older than this age (e.g. 720h)")
	rootCmd.AddCommand(auditCmd)
}
