package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ziadkadry99/sitecache/internal/audit"
	"github.com/ziadkadry99/sitecache/internal/cachestore"
	"github.com/ziadkadry99/sitecache/internal/config"
	"github.com/ziadkadry99/sitecache/internal/db"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `sitecache init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// openStore opens the configured cache store.
func openStore(cfg *config.Config) (cachestore.Store, error) {
	store, err := cachestore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	return store, nil
}

// newWorker builds a worker over store that fetches from the configured upstream.
func newWorker(cfg *config.Config, store cachestore.Store, opts ...worker.Option) (*worker.Worker, error) {
	fetcher, err := worker.NewHTTPFetcher(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}
	return worker.New(cfg, store, fetcher, opts...)
}

// openAudit opens the audit trail. It returns a nil store when the trail is
// disabled; closeFn is always safe to call.
func openAudit(cfg *config.Config) (store *audit.Store, closeFn func(), err error) {
	if cfg.AuditPath == "" {
		return nil, func() {}, nil
	}
	database, err := db.Open(cfg.AuditPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit trail: %w", err)
	}
	return audit.NewStore(database), func() { database.Close() }, nil
}

// recordLifecycle streams w's install and activate notices into trail. The
// returned function stops recording and waits for pending entries to be
// written.
func recordLifecycle(w *worker.Worker, trail *audit.Store) (stop func()) {
	if trail == nil {
		return func() {}
	}
	notices, cancel := w.Subscribe(64, worker.EventInstall, worker.EventActivate)
	done := make(chan struct{})
	go func() {
		defer close(done)
		trail.Follow(context.Background(), notices)
	}()
	return func() {
		cancel()
		<-done
	}
}

// callServer posts to the admin API of a running sitecache server.
func callServer(ctx context.Context, base, path string) (map[string]any, error) {
	url := strings.TrimSuffix(base, "/") + "/_sitecache" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}

	// Install waits for the whole manifest.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %v", resp.StatusCode, out["error"])
	}
	return out, nil
}
