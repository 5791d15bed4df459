package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestHTTPFetcher(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") == "close-me" {
			t.Error("hop-by-hop header forwarded")
		}
		w.Header().Set("X-Path", r.URL.RequestURI())
		w.Header().Set("X-Forwarded-Host-Seen", r.Header.Get("X-Forwarded-Host"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "hello")
	}))
	defer upstream.Close()

	f, err := NewHTTPFetcher(upstream.URL)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	u, _ := url.Parse("https://site.test/blog/post?x=1")
	req := NewRequest("GET", u, http.Header{"Connection": []string{"close-me"}}, nil)
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != 200 || resp.Source != SourceNetwork {
		t.Errorf("Status = %d, Source = %s", resp.Status, resp.Source)
	}
	if got := resp.Header.Get("X-Path"); got != "/blog/post?x=1" {
		t.Errorf("upstream saw %q", got)
	}
	if got := resp.Header.Get("X-Forwarded-Host-Seen"); got != "site.test" {
		t.Errorf("X-Forwarded-Host = %q", got)
	}
	b, _ := resp.Bytes()
	if string(b) != "hello" {
		t.Errorf("body = %q", b)
	}
	if !req.BodyUsed() {
		t.Error("Fetch should consume the request body")
	}

	// Error statuses are responses, not failures.
	u, _ = url.Parse("https://site.test/missing")
	resp, err = f.Fetch(context.Background(), NewRequest("GET", u, nil, nil))
	if err != nil {
		t.Fatalf("Fetch 404: %v", err)
	}
	if resp.Status != 404 {
		t.Errorf("Status = %d, want 404", resp.Status)
	}
	resp.Bytes()
}

func TestHTTPFetcherNetworkError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	f, err := NewHTTPFetcher(addr)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	u, _ := url.Parse("https://site.test/")
	_, err = f.Fetch(context.Background(), NewRequest("GET", u, nil, nil))

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestHTTPFetcherUsedBody(t *testing.T) {
	f, _ := NewHTTPFetcher("http://127.0.0.1:1")
	u, _ := url.Parse("https://site.test/")
	req := NewRequest("GET", u, nil, nil)
	req.Body()

	if _, err := f.Fetch(context.Background(), req); !errors.Is(err, ErrBodyUsed) {
		t.Errorf("err = %v, want ErrBodyUsed", err)
	}
}

func TestSingleJoiningSlash(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/", "/x", "/x"},
		{"", "", "/"},
		{"/base", "/x", "/base/x"},
		{"/base/", "/x", "/base/x"},
		{"/base", "x", "/base/x"},
		{"/base", "", "/base"},
	}
	for _, tt := range tests {
		if got := singleJoiningSlash(tt.a, tt.b); got != tt.want {
			t.Errorf("singleJoiningSlash(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}
