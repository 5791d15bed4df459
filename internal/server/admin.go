package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/sitecache/internal/audit"
	"github.com/ziadkadry99/sitecache/internal/worker"
)

type statusResponse struct {
	State         worker.State `json:"state"`
	Scope         string       `json:"scope,omitempty"`
	Upstream      string       `json:"upstream"`
	AssetsCache   string       `json:"assets_cache"`
	PagesCache    string       `json:"pages_cache"`
	Precache      []string     `json:"precache"`
	OfflineURL    string       `json:"offline_url"`
	AssetPatterns []string     `json:"asset_patterns"`
}

type cachesResponse struct {
	Caches   []string `json:"caches"`
	Expected []string `json:"expected"`
	Stale    []string `json:"stale"`
}

type entryResponse struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	Size        int       `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

type admin struct {
	worker *worker.Worker
	audit  *audit.Store
}

// registerAdminRoutes mounts the worker's management API on r. trail may be nil.
func registerAdminRoutes(r chi.Router, w *worker.Worker, trail *audit.Store) {
	a := &admin{worker: w, audit: trail}
	r.Get("/status", a.handleStatus)
	r.Get("/caches", a.handleListCaches)
	r.Get("/caches/{name}", a.handleShowCache)
	r.Delete("/caches/{name}", a.handleDeleteCache)
	r.Post("/install", a.handleInstall)
	r.Post("/activate", a.handleActivate)
	r.Get("/events", a.handleEvents)
}

func (a *admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := a.worker.Config()
	writeJSON(w, http.StatusOK, statusResponse{
		State:         a.worker.State(),
		Scope:         cfg.Scope,
		Upstream:      cfg.Upstream,
		AssetsCache:   cfg.AssetsCache,
		PagesCache:    cfg.PagesCache,
		Precache:      cfg.Precache,
		OfflineURL:    cfg.OfflineURL,
		AssetPatterns: cfg.AssetPatterns,
	})
}

func (a *admin) handleListCaches(w http.ResponseWriter, r *http.Request) {
	names, err := a.worker.Store().Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	expected := a.worker.Config().ExpectedCaches()
	resp := cachesResponse{Caches: names, Expected: expected, Stale: []string{}}
	if resp.Caches == nil {
		resp.Caches = []string{}
	}
	for _, name := range names {
		if !slices.Contains(expected, name) {
			resp.Stale = append(resp.Stale, name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *admin) handleShowCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store := a.worker.Store()

	// Open creates missing partitions, so check first.
	ok, err := store.Has(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "cache not found")
		return
	}

	p, err := store.Open(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := p.Entries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			Method:      e.Method,
			URL:         e.URL,
			Status:      e.Status,
			Size:        len(e.Body),
			ContentType: e.Header.Get("Content-Type"),
			StoredAt:    e.StoredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "entries": out})
}

func (a *admin) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := a.worker.Store().Delete(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "cache not found")
		return
	}
	log.Printf("sitecache: deleted cache %s", name)
	if a.audit != nil {
		if err := a.audit.Log(r.Context(), audit.Entry{Event: "admin", Action: audit.ActionPurged, Cache: name}); err != nil {
			log.Printf("sitecache: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) handleInstall(w http.ResponseWriter, r *http.Request) {
	a.lifecycle(w, a.worker.Install(r.Context()))
}

func (a *admin) handleActivate(w http.ResponseWriter, r *http.Request) {
	a.lifecycle(w, a.worker.Activate(r.Context()))
}

func (a *admin) lifecycle(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"state": a.worker.State()})
	case errors.Is(err, worker.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrInstall):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
