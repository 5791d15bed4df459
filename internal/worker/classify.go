package worker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Classification decides which strategy, if any, handles a request.
type Classification int

const (
	// Passthrough requests are left to default handling.
	Passthrough Classification = iota
	// Page requests accept HTML and are served network-first.
	Page
	// Asset requests match an asset path pattern and are served cache-first.
	Asset
)

func (c Classification) String() string {
	switch c {
	case Page:
		return "page"
	case Asset:
		return "asset"
	default:
		return "passthrough"
	}
}

// Classify derives the classification of req. Only same-origin GET requests
// are eligible; a request that accepts HTML is a Page even when its path
// also matches an asset pattern.
func (w *Worker) Classify(req *Request) Classification {
	if req.Method != http.MethodGet {
		return Passthrough
	}
	if !w.sameOrigin(req.URL) {
		return Passthrough
	}
	if req.AcceptsHTML() {
		return Page
	}
	if w.matchAsset(req.URL.Path) {
		return Asset
	}
	return Passthrough
}

// sameOrigin compares u against the worker scope. Without a scope every
// request addressed to the worker belongs to it.
func (w *Worker) sameOrigin(u *url.URL) bool {
	if w.scope == nil {
		return true
	}
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Scheme, w.scope.Scheme) && canonicalHost(u) == canonicalHost(w.scope)
}

// canonicalHost lower-cases the host and drops the scheme's default port.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
	default:
		host += ":" + port
	}
	return host
}

func (w *Worker) matchAsset(path string) bool {
	for _, pattern := range w.cfg.AssetPatterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
