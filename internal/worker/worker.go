// Package worker implements the offline cache worker: it precaches
// critical assets on install, evicts stale partitions on activate, and
// routes every intercepted request to a cache-first or network-first
// strategy with an offline fallback.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ziadkadry99/sitecache/internal/cachestore"
	"github.com/ziadkadry99/sitecache/internal/config"
	"github.com/ziadkadry99/sitecache/internal/metrics"
	"github.com/ziadkadry99/sitecache/internal/progress"
)

// State is the worker's lifecycle state.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Worker owns the cache partitions of one site and answers fetch events.
type Worker struct {
	cfg     *config.Config
	scope   *url.URL
	store   cachestore.Store
	fetcher Fetcher
	metrics *metrics.Metrics
	report  progress.Reporter

	handlers map[EventType][]HandlerFunc

	mu    sync.RWMutex
	state State

	pending sync.WaitGroup

	subMu sync.Mutex
	subID int
	subs  map[int]subscriber
}

type subscriber struct {
	ch    chan Notice
	types []EventType
}

// wants reports whether the subscriber asked for notices of type t.
func (s subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics records fetch and lifecycle counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithProgress reports precache progress during install.
func WithProgress(r progress.Reporter) Option {
	return func(w *Worker) { w.report = r }
}

// New creates a Worker and registers its install, activate and fetch
// handlers. cfg is shared, never modified.
func New(cfg *config.Config, store cachestore.Store, fetcher Fetcher, opts ...Option) (*Worker, error) {
	w := &Worker{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		handlers: make(map[EventType][]HandlerFunc),
		state:    StateParsed,
		subs:     make(map[int]subscriber),
	}
	if cfg.Scope != "" {
		u, err := url.Parse(cfg.Scope)
		if err != nil {
			return nil, fmt.Errorf("parsing scope: %w", err)
		}
		w.scope = u
	}
	for _, opt := range opts {
		opt(w)
	}

	w.On(EventInstall, w.onInstall)
	w.On(EventActivate, w.onActivate)
	w.On(EventFetch, w.onFetch)
	return w, nil
}

// On registers an additional handler for an event type. Handlers run in
// registration order. Register handlers before dispatching events.
func (w *Worker) On(typ EventType, h HandlerFunc) {
	w.handlers[typ] = append(w.handlers[typ], h)
}

// Dispatch runs every handler registered for e.Type and returns the first
// error a handler raised synchronously.
func (w *Worker) Dispatch(ctx context.Context, e *Event) error {
	for _, h := range w.handlers[e.Type] {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration the worker was built with.
func (w *Worker) Config() *config.Config { return w.cfg }

// Store returns the cache store the worker orchestrates.
func (w *Worker) Store() cachestore.Store { return w.store }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// transition moves from one of the allowed states to next.
func (w *Worker) transition(next State, allowed ...State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range allowed {
		if w.state == s {
			w.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidState, next, w.state)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install dispatches an install event and waits until the precache
// manifest is stored. On failure nothing is stored and the worker becomes
// redundant.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling, StateParsed, StateRedundant, StateInstalled, StateActivated); err != nil {
		return err
	}

	e := newEvent(ctx, EventInstall, nil)
	err := w.Dispatch(ctx, e)
	if err == nil {
		err = e.Wait()
	}
	w.metrics.RecordLifecycle(string(EventInstall), err)

	if err != nil {
		w.setState(StateRedundant)
		w.publish(Notice{EventID: e.ID, Type: EventInstall, Action: "install_failed", Error: err.Error()})
		if !errors.Is(err, ErrInstall) {
			err = fmt.Errorf("%w: %w", ErrInstall, err)
		}
		return err
	}

	w.setState(StateInstalled)
	w.publish(Notice{EventID: e.ID, Type: EventInstall, Action: "installed"})
	return nil
}

// Activate dispatches an activate event and waits until every partition
// outside the expected set is deleted.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating, StateInstalled, StateActivated); err != nil {
		return err
	}

	e := newEvent(ctx, EventActivate, nil)
	err := w.Dispatch(ctx, e)
	if err == nil {
		err = e.Wait()
	}
	w.metrics.RecordLifecycle(string(EventActivate), err)

	if err != nil {
		w.setState(StateInstalled)
		w.publish(Notice{EventID: e.ID, Type: EventActivate, Action: "activate_failed", Error: err.Error()})
		return fmt.Errorf("activating: %w", err)
	}

	w.setState(StateActivated)
	w.publish(Notice{EventID: e.ID, Type: EventActivate, Action: "activated"})
	return nil
}

// HandleFetch dispatches a fetch event for req. When handled is false the
// worker did not intercept the request and the caller must perform its
// default handling. A handled request yields either a response or an
// error wrapping ErrNoResponse.
//
// Cache writes triggered by the fetch outlive the call; Drain waits for them.
func (w *Worker) HandleFetch(ctx context.Context, req *Request) (resp *Response, handled bool, err error) {
	if w.State() != StateActivated {
		return nil, false, nil
	}

	e := newEvent(context.WithoutCancel(ctx), EventFetch, req)
	if err := w.Dispatch(ctx, e); err != nil {
		return nil, true, err
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if err := e.Wait(); err != nil {
			log.Printf("sitecache: fetch %s %s: %v", req.Method, req.URL, err)
		}
	}()

	resp, responded, err := e.Result()
	if !responded {
		return nil, false, nil
	}
	return resp, true, err
}

// Drain waits until every outstanding background cache write finished or
// ctx is done.
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of notices and a function that ends the
// subscription. When types are given only those notices are queued, so a
// lifecycle subscriber's buffer is not filled by fetch traffic. Slow
// subscribers miss notices rather than block the worker.
func (w *Worker) Subscribe(buffer int, types ...EventType) (<-chan Notice, func()) {
	ch := make(chan Notice, buffer)

	w.subMu.Lock()
	id := w.subID
	w.subID++
	w.subs[id] = subscriber{ch: ch, types: types}
	w.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			w.subMu.Unlock()
			close(ch)
		})
	}
}

func (w *Worker) publish(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	if n.State == "" {
		n.State = w.State()
	}

	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, sub := range w.subs {
		if !sub.wants(n.Type) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
}
