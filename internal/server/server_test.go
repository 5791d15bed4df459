package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/sitecache/internal/audit"
	"github.com/ziadkadry99/sitecache/internal/cachestore"
	"github.com/ziadkadry99/sitecache/internal/config"
	"github.com/ziadkadry99/sitecache/internal/db"
	"github.com/ziadkadry99/sitecache/internal/metrics"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

// origin is a stand-in for the site behind the worker.
type origin struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
	down  bool
	srv   *httptest.Server
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{
		pages: map[string]string{
			"/assets/css/main.css": "body{}",
			"/assets/js/main.js":   "console.log(1)",
			"/manifest.json":       `{"name":"site"}`,
			"/offline.html":        "<h1>offline</h1>",
			"/about/":              "<h1>about</h1>",
		},
		hits: make(map[string]int),
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	down := o.down
	body, ok := o.pages[r.URL.Path]
	o.mu.Unlock()

	if down {
		panic(http.ErrAbortHandler)
	}
	if r.Method == http.MethodPost {
		data, _ := io.ReadAll(r.Body)
		w.Write([]byte("echo:" + string(data)))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(r.URL.Path, ".html") || strings.HasSuffix(r.URL.Path, "/") {
		w.Header().Set("Content-Type", "text/html")
	}
	w.Write([]byte(body))
}

func (o *origin) setDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

func (o *origin) remove(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pages, path)
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func newTestServer(t *testing.T, o *origin, opts ...Option) (*Server, *worker.Worker) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Upstream = o.srv.URL
	cfg.Store = config.StoreConfig{Driver: config.DriverMemory}

	fetcher, err := worker.NewHTTPFetcher(cfg.Upstream)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	m := metrics.New()
	w, err := worker.New(cfg, cachestore.NewMemoryStore(), fetcher, worker.WithMetrics(m))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	srv, err := New(Config{Port: 0, AllowAll: true}, w, m, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, w
}

func activate(t *testing.T, w *worker.Worker) {
	t.Helper()
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := w.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func get(srv *Server, path string, html bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if html {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func drain(t *testing.T, w *worker.Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, newOrigin(t))

	w := get(srv, "/healthz", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t, newOrigin(t))

	req := httptest.NewRequest("OPTIONS", "/_sitecache/status", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestPassThroughBeforeActivation(t *testing.T) {
	o := newOrigin(t)
	srv, _ := newTestServer(t, o)

	w := get(srv, "/about/", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Sitecache"); got != "" {
		t.Errorf("X-Sitecache = %q, want proxied response", got)
	}
	if w.Body.String() != "<h1>about</h1>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestPostIsProxied(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)

	req := httptest.NewRequest("POST", "/api/form", strings.NewReader("a=1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Body.String() != "echo:a=1" {
		t.Errorf("body = %q, want echo:a=1", rec.Body.String())
	}
	if got := rec.Header().Get("X-Sitecache"); got != "" {
		t.Errorf("X-Sitecache = %q, want proxied response", got)
	}
}

func TestPagesNetworkFirst(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)

	rec := get(srv, "/about/", true)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Sitecache") != "network" {
		t.Fatalf("online: code=%d source=%q", rec.Code, rec.Header().Get("X-Sitecache"))
	}
	drain(t, w)

	o.setDown(true)

	rec = get(srv, "/about/", true)
	if rec.Header().Get("X-Sitecache") != "cache" {
		t.Errorf("offline cached page: source = %q, want cache", rec.Header().Get("X-Sitecache"))
	}
	if rec.Body.String() != "<h1>about</h1>" {
		t.Errorf("offline cached page: body = %q", rec.Body.String())
	}

	rec = get(srv, "/never-visited/", true)
	if rec.Header().Get("X-Sitecache") != "offline" {
		t.Errorf("unvisited page: source = %q, want offline", rec.Header().Get("X-Sitecache"))
	}
	if rec.Body.String() != "<h1>offline</h1>" {
		t.Errorf("unvisited page: body = %q", rec.Body.String())
	}
}

func TestAssetsCacheFirst(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)

	rec := get(srv, "/assets/css/main.css", false)
	if rec.Header().Get("X-Sitecache") != "cache" {
		t.Errorf("source = %q, want cache", rec.Header().Get("X-Sitecache"))
	}
	if rec.Body.String() != "body{}" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if n := o.hitCount("/assets/css/main.css"); n != 1 {
		t.Errorf("upstream hits = %d, want 1 (install only)", n)
	}
}

func TestNoResponseIsBadGateway(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)
	o.setDown(true)

	rec := get(srv, "/css/missing.css", false)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", rec.Code)
	}
}

func TestAdminLifecycle(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", path, nil))
		return rec
	}

	if rec := post("/_sitecache/activate"); rec.Code != http.StatusConflict {
		t.Errorf("activate before install: code = %d, want 409", rec.Code)
	}
	if rec := post("/_sitecache/install"); rec.Code != http.StatusOK {
		t.Fatalf("install: code = %d, body = %s", rec.Code, rec.Body.String())
	}

	// A stale partition from a previous version.
	if _, err := w.Store().Open(context.Background(), "assets-v1.1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := post("/_sitecache/activate")
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var state map[string]string
	json.Unmarshal(rec.Body.Bytes(), &state)
	if state["state"] != string(worker.StateActivated) {
		t.Errorf("state = %q, want activated", state["state"])
	}

	rec = get(srv, "/_sitecache/caches", false)
	var caches cachesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &caches); err != nil {
		t.Fatalf("unmarshal caches: %v", err)
	}
	if len(caches.Caches) != 2 || len(caches.Stale) != 0 {
		t.Errorf("caches = %+v, want exactly the two expected partitions", caches)
	}

	rec = get(srv, "/_sitecache/caches/assets-v1.2", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("show: code = %d", rec.Code)
	}
	var shown struct {
		Name    string          `json:"name"`
		Entries []entryResponse `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &shown); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(shown.Entries) != 4 {
		t.Errorf("entries = %d, want 4 precached", len(shown.Entries))
	}

	rec = get(srv, "/_sitecache/status", false)
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.State != worker.StateActivated || status.AssetsCache != "assets-v1.2" {
		t.Errorf("status = %+v", status)
	}

	del := func(name string) int {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/_sitecache/caches/"+name, nil))
		return rec.Code
	}
	if code := del("pages-v1.2"); code != http.StatusNoContent {
		t.Errorf("delete: code = %d, want 204", code)
	}
	if code := del("pages-v1.2"); code != http.StatusNotFound {
		t.Errorf("second delete: code = %d, want 404", code)
	}
	if rec := get(srv, "/_sitecache/caches/pages-v1.2", false); rec.Code != http.StatusNotFound {
		t.Errorf("show deleted: code = %d, want 404", rec.Code)
	}
}

func TestAdminInstallFailure(t *testing.T) {
	o := newOrigin(t)
	o.remove("/manifest.json")
	srv, w := newTestServer(t, o)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/_sitecache/install", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", rec.Code)
	}
	if w.State() != worker.StateRedundant {
		t.Errorf("state = %q, want redundant", w.State())
	}

	names, err := w.Store().Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	for _, name := range names {
		p, _ := w.Store().Open(context.Background(), name)
		entries, _ := p.Entries(context.Background())
		if len(entries) != 0 {
			t.Errorf("partition %s has %d entries after failed install", name, len(entries))
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)

	rec := get(srv, "/metrics", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sitecache_lifecycle_total") {
		t.Error("expected sitecache_lifecycle_total in metrics output")
	}
}

func TestEventsWebsocket(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/_sitecache/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	got := make(chan worker.Notice, 1)
	go func() {
		var n worker.Notice
		if err := conn.ReadJSON(&n); err == nil {
			got <- n
		}
	}()

	// The subscription is registered asynchronously after the upgrade, so
	// keep producing notices until one arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case n := <-got:
			if n.Type != worker.EventInstall {
				t.Errorf("notice type = %q, want install", n.Type)
			}
			return
		case <-tick.C:
			if err := w.Install(context.Background()); err != nil {
				t.Fatalf("Install: %v", err)
			}
		case <-deadline:
			t.Fatal("no notice received")
		}
	}
}

func TestAuditRoutes(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer database.Close()
	trail := audit.NewStore(database)

	o := newOrigin(t)
	srv, w := newTestServer(t, o, WithAudit(trail))
	activate(t, w)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/_sitecache/caches/pages-v1.2", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: code = %d", rec.Code)
	}

	rec = get(srv, "/_sitecache/audit?action=purged", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: code = %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0].Cache != "pages-v1.2" {
		t.Errorf("entries = %+v, want one purge of pages-v1.2", entries)
	}
}

func TestRunDrainsBeforeReturning(t *testing.T) {
	o := newOrigin(t)
	srv, w := newTestServer(t, o)
	activate(t, w)

	release := make(chan struct{})
	var written atomic.Bool
	w.On(worker.EventFetch, func(ctx context.Context, e *worker.Event) error {
		if e.Request.Method != http.MethodPost {
			return nil
		}
		e.WaitUntil(func(context.Context) error {
			<-release
			written.Store(true)
			return nil
		})
		return e.RespondWith(worker.NewResponse(http.StatusNoContent, nil, nil, worker.SourceNetwork), nil)
	})

	u, _ := url.Parse(o.srv.URL + "/form")
	if _, handled, err := w.HandleFetch(context.Background(), worker.NewRequest(http.MethodPost, u, nil, nil)); err != nil || !handled {
		t.Fatalf("HandleFetch = %v, %v", handled, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, 5*time.Second) }()
	cancel()

	select {
	case err := <-done:
		t.Fatalf("Run returned (%v) while a cache write was pending", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the write finished")
	}
	if !written.Load() {
		t.Error("Run returned before the background write completed")
	}
}
