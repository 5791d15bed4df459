package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/sitecache/internal/progress"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

var lifecycleServer string

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the manifest into the assets cache",
	Long: `Fetches every URL in the precache manifest and stores them atomically.
With --server the install runs inside a running sitecache server instead
of against the local store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if lifecycleServer != "" {
			out, err := callServer(ctx, lifecycleServer, "/install")
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Installed (worker %v)\n", out["state"])
			return nil
		}
		return runLocalLifecycle(ctx, false)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Evict cache partitions left behind by older versions",
	Long: `Deletes every cache partition other than the configured assets and pages
caches. Without --server the manifest is installed first, since only an
installed worker can activate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if lifecycleServer != "" {
			out, err := callServer(ctx, lifecycleServer, "/activate")
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Activated (worker %v)\n", out["state"])
			return nil
		}
		return runLocalLifecycle(ctx, true)
	},
}

func runLocalLifecycle(ctx context.Context, activate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := newWorker(cfg, store, worker.WithProgress(progress.NewReporter()))
	if err != nil {
		return err
	}

	trail, closeAudit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()
	stopRecording := recordLifecycle(w, trail)
	defer stopRecording()

	if err := w.Install(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Precached %d URLs into %s\n", len(cfg.Precache), cfg.AssetsCache)

	if !activate {
		return nil
	}
	if err := w.Activate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Active caches: %s, %s\n", cfg.AssetsCache, cfg.PagesCache)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{installCmd, activateCmd} {
		c.Flags().StringVar(&lifecycleServer, "server", "", "Base URL of a running sitecache server (e.g. http://localhost:8080)")
		rootCmd.AddCommand(c)
	}
}
