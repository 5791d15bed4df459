package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/sitecache/internal/metrics"
	"github.com/ziadkadry99/sitecache/internal/server"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

var (
	servePort     int
	serveAllowAll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install and activate the worker, then serve the site",
	Long: `Precaches the manifest, evicts stale cache partitions and starts the
caching front end. If the install fails the server still starts and passes
every request through to the upstream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}

		var m *metrics.Metrics
		if cfg.Metrics {
			m = metrics.New()
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		w, err := newWorker(cfg, store, worker.WithMetrics(m))
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := w.Install(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			fmt.Fprintln(os.Stderr, "  Serving without the worker; all requests go to the upstream.")
		} else if err := w.Activate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		srv, err := server.New(server.Config{
			Port:     cfg.Port,
			AllowAll: serveAllowAll,
		}, w, m, server.WithAudit(trail))
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "sitecache v%s starting on port %d\n", Version, cfg.Port)
		fmt.Fprintf(os.Stderr, "  Upstream: %s\n", cfg.Upstream)
		fmt.Fprintf(os.Stderr, "  Store: %s %s\n", cfg.Store.Driver, cfg.Store.Path)
		fmt.Fprintf(os.Stderr, "  Caches: %s, %s\n", cfg.AssetsCache, cfg.PagesCache)
		fmt.Fprintf(os.Stderr, "  Worker: %s\n", w.State())
		if trail != nil {
			fmt.Fprintf(os.Stderr, "  Audit trail: %s\n", cfg.AuditPath)
		}

		// Blocks through the shutdown drain so the deferred closes run last.
		if err := srv.Run(ctx, 10*time.Second); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Server stopped.")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "Allow any CORS origin on the admin API")
	rootCmd.AddCommand(serveCmd)
}
