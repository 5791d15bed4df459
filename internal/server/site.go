package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/ziadkadry99/sitecache/internal/worker"
)

// serveSite hands the request to the worker and performs default handling
// when the worker does not intercept it.
func (s *Server) serveSite(w http.ResponseWriter, r *http.Request) {
	req := workerRequest(r)

	resp, handled, err := s.worker.HandleFetch(r.Context(), req)
	if !handled {
		s.proxy.ServeHTTP(w, r)
		return
	}
	if err != nil {
		// The browser would surface a network error here.
		if !errors.Is(err, worker.ErrNoResponse) {
			log.Printf("sitecache: fetch %s: %v", req.URL, err)
		}
		http.Error(w, "network error", http.StatusBadGateway)
		return
	}

	writeResponse(w, resp)
}

// workerRequest converts an incoming request into the worker's view of it:
// an absolute URL on the origin the client addressed.
func workerRequest(r *http.Request) *worker.Request {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			u.Scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
		u.Host = r.Host
	}
	return worker.NewRequest(r.Method, &url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}, r.Header.Clone(), r.Body)
}

func writeResponse(w http.ResponseWriter, resp *worker.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Sitecache", string(resp.Source))
	w.WriteHeader(resp.Status)

	body, err := resp.Body()
	if err != nil {
		log.Printf("sitecache: writing response: %v", err)
		return
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		log.Printf("sitecache: writing response: %v", err)
	}
}
