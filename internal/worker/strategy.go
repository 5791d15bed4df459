package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ziadkadry99/sitecache/internal/cachestore"
)

const (
	strategyCacheFirst   = "cache-first"
	strategyNetworkFirst = "network-first"
)

func (w *Worker) onFetch(ctx context.Context, e *Event) error {
	var (
		resp     *Response
		err      error
		strategy string
	)
	switch w.Classify(e.Request) {
	case Page:
		strategy = strategyNetworkFirst
		resp, err = w.networkFirst(ctx, e, w.cfg.PagesCache)
	case Asset:
		strategy = strategyCacheFirst
		resp, err = w.cacheFirst(ctx, e, w.cfg.AssetsCache)
	default:
		return nil
	}

	n := Notice{EventID: e.ID, Type: EventFetch, Action: "respond", URL: e.Request.URL.String(), Strategy: strategy}
	if err != nil {
		n.Error = err.Error()
		w.metrics.RecordFetch(strategy, "none")
	} else {
		n.Source = resp.Source
		w.metrics.RecordFetch(strategy, string(resp.Source))
	}
	w.publish(n)

	return e.RespondWith(resp, err)
}

// cacheFirst answers from the partition and only goes to the network on a
// miss. Fresh 2xx responses are written back to the partition.
func (w *Worker) cacheFirst(ctx context.Context, e *Event, partition string) (*Response, error) {
	req := e.Request

	resp, err := w.fromCache(ctx, partition, req)
	if err == nil {
		return resp, nil
	}

	resp, err = w.fromNetwork(ctx, e, partition)
	if err == nil {
		return resp, nil
	}

	return w.offline(ctx, req, err)
}

// networkFirst goes to the network and only reads the partition when the
// network fails. Fresh 2xx responses are written back to the partition.
func (w *Worker) networkFirst(ctx context.Context, e *Event, partition string) (*Response, error) {
	req := e.Request

	resp, err := w.fromNetwork(ctx, e, partition)
	if err == nil {
		return resp, nil
	}

	resp, err = w.fromCache(ctx, partition, req)
	if err == nil {
		return resp, nil
	}

	return w.offline(ctx, req, err)
}

// fromCache reads req from the named partition. A miss is ErrNotCached.
func (w *Worker) fromCache(ctx context.Context, partition string, req *Request) (*Response, error) {
	p, err := w.store.Open(ctx, partition)
	if err != nil {
		return nil, err
	}
	entry, err := p.Match(ctx, req.CacheKey())
	if errors.Is(err, cachestore.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrNotCached)
	}
	if err != nil {
		return nil, err
	}
	return responseFromEntry(entry, SourceCache), nil
}

// fromNetwork fetches a clone of the event's request, so the original stays
// readable for the cache key and any later step.
func (w *Worker) fromNetwork(ctx context.Context, e *Event, partition string) (*Response, error) {
	clone, err := e.Request.Clone()
	if err != nil {
		return nil, err
	}
	resp, err := w.fetcher.Fetch(ctx, clone)
	if err != nil {
		return nil, err
	}
	return w.putCache(e, resp, partition)
}

// putCache schedules a write of a copy of resp when it is a 2xx response and
// returns resp itself. The write extends the event's lifetime.
func (w *Worker) putCache(e *Event, resp *Response, partition string) (*Response, error) {
	if !resp.OK() {
		return resp, nil
	}
	copied, err := resp.Clone()
	if err != nil {
		return nil, &NetworkError{URL: e.Request.URL.String(), Err: err}
	}

	req := e.Request
	e.WaitUntil(func(ctx context.Context) error {
		err := w.put(ctx, partition, req, copied)
		w.metrics.RecordCacheWrite(partition, err)
		return err
	})
	return resp, nil
}

func (w *Worker) put(ctx context.Context, partition string, req *Request, resp *Response) error {
	p, err := w.store.Open(ctx, partition)
	if err != nil {
		return err
	}
	entry, err := resp.toEntry(req)
	if err != nil {
		return err
	}
	if err := p.Put(ctx, entry); err != nil {
		return fmt.Errorf("caching %s in %s: %w", req.URL, partition, err)
	}
	return nil
}

// offline answers HTML-accepting requests with the offline document. Any
// other request fails with ErrNoResponse wrapping cause.
func (w *Worker) offline(ctx context.Context, req *Request, cause error) (*Response, error) {
	if !req.AcceptsHTML() {
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, cause)
	}
	entry, err := w.store.Match(ctx, cachestore.Key(http.MethodGet, w.resolve(w.cfg.OfflineURL).RequestURI()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, cause)
	}
	return responseFromEntry(entry, SourceOffline), nil
}
