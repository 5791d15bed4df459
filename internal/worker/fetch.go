package worker

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Fetcher is the network capability: given a request it returns a response
// or fails.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// hopHeaders are connection-level headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches requests from the upstream origin over HTTP. The
// request's path and query are kept; scheme and host are replaced.
type HTTPFetcher struct {
	Upstream *url.URL
	Client   *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher for the given upstream origin. No
// client timeout is set: a hung upstream blocks until the caller's context
// gives up.
func NewHTTPFetcher(upstream string) (*HTTPFetcher, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{
		Upstream: u,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := f.target(req.URL)

	body, err := req.Body()
	if err != nil {
		return nil, &NetworkError{URL: target.String(), Err: err}
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		body.Close()
		return nil, &NetworkError{URL: target.String(), Err: err}
	}
	out.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if req.URL.Host != "" {
		out.Header.Set("X-Forwarded-Host", req.URL.Host)
	}

	resp, err := f.Client.Do(out)
	if err != nil {
		return nil, &NetworkError{URL: target.String(), Err: err}
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return NewResponse(resp.StatusCode, header, resp.Body, SourceNetwork), nil
}

func (f *HTTPFetcher) target(u *url.URL) *url.URL {
	t := *f.Upstream
	t.Path = singleJoiningSlash(f.Upstream.Path, u.Path)
	t.RawPath = ""
	t.RawQuery = u.RawQuery
	t.Fragment = ""
	return &t
}

func singleJoiningSlash(a, b string) string {
	switch {
	case a == "" || a == "/":
		if b == "" {
			return "/"
		}
		return b
	case len(b) == 0:
		return a
	}
	aslash := a[len(a)-1] == '/'
	bslash := b[0] == '/'
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
