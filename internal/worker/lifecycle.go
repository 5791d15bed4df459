package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/sitecache/internal/cachestore"
)

func (w *Worker) onInstall(ctx context.Context, e *Event) error {
	e.WaitUntil(w.precache)
	return nil
}

// precache fetches the whole manifest and stores it in the asset partition
// in one atomic write. A single failed or non-2xx fetch aborts the install
// before anything is stored.
func (w *Worker) precache(ctx context.Context) error {
	partition, err := w.store.Open(ctx, w.cfg.AssetsCache)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstall, err)
	}
	log.Printf("sitecache: opened cache %s", partition.Name())

	manifest := w.cfg.Precache
	entries := make([]*cachestore.Entry, len(manifest))

	var (
		mu   sync.Mutex
		done int
	)
	if w.report != nil {
		w.report.Start(len(manifest))
		defer w.report.Finish()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range manifest {
		g.Go(func() error {
			req := NewRequest(http.MethodGet, w.resolve(path), nil, nil)
			entry, err := w.fetchForPrecache(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInstall, path, err)
			}
			entries[i] = entry

			if w.report != nil {
				mu.Lock()
				done++
				w.report.Update(done, path)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := partition.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("%w: storing manifest: %w", ErrInstall, err)
	}
	log.Printf("sitecache: precached %d urls into %s", len(entries), partition.Name())
	return nil
}

func (w *Worker) fetchForPrecache(ctx context.Context, req *Request) (*cachestore.Entry, error) {
	clone, err := req.Clone()
	if err != nil {
		return nil, err
	}
	resp, err := w.fetcher.Fetch(ctx, clone)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		if rc, err := resp.Body(); err == nil {
			rc.Close()
		}
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}
	return resp.toEntry(req)
}

func (w *Worker) onActivate(ctx context.Context, e *Event) error {
	e.WaitUntil(func(ctx context.Context) error {
		if err := w.evict(ctx, e); err != nil {
			return err
		}
		log.Printf("sitecache: now ready to handle fetches")
		return nil
	})
	return nil
}

// evict deletes every partition that is not in the expected set.
func (w *Worker) evict(ctx context.Context, e *Event) error {
	names, err := w.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing caches: %w", err)
	}

	expected := w.cfg.ExpectedCaches()
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if slices.Contains(expected, name) {
			continue
		}
		g.Go(func() error {
			if _, err := w.store.Delete(gctx, name); err != nil {
				return fmt.Errorf("deleting cache %s: %w", name, err)
			}
			log.Printf("sitecache: deleted stale cache %s", name)
			w.metrics.RecordEviction()
			w.publish(Notice{EventID: e.ID, Type: EventActivate, Action: "evicted", Cache: name})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Both expected partitions exist once activation completes.
	for _, name := range expected {
		if _, err := w.store.Open(ctx, name); err != nil {
			return fmt.Errorf("opening cache %s: %w", name, err)
		}
	}
	return nil
}

// resolve turns a manifest path into the URL the worker would see for it.
func (w *Worker) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	if w.scope == nil {
		return ref
	}
	return w.scope.ResolveReference(ref)
}
