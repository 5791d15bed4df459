package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ziadkadry99/sitecache/internal/cachestore"
)

// ErrBodyUsed is returned when a request or response body is read, or the
// message cloned, after the body was already consumed.
var ErrBodyUsed = errors.New("body already used")

// body enforces the single-consumption rule shared by Request and Response.
type body struct {
	mu   sync.Mutex
	rc   io.ReadCloser
	used bool
}

// take hands out the body exactly once.
func (b *body) take() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used {
		return nil, ErrBodyUsed
	}
	b.used = true
	if b.rc == nil {
		return http.NoBody, nil
	}
	return b.rc, nil
}

// tee buffers the unread body so that both the receiver and the returned
// copy can be consumed once each.
func (b *body) tee() (*body, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used {
		return nil, ErrBodyUsed
	}
	if b.rc == nil {
		return &body{}, nil
	}
	data, err := io.ReadAll(b.rc)
	b.rc.Close()
	if err != nil {
		b.used = true
		return nil, fmt.Errorf("buffering body: %w", err)
	}
	b.rc = io.NopCloser(bytes.NewReader(data))
	return &body{rc: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *body) isUsed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Request is an intercepted request. Its body may be read once; anything
// that needs it twice must Clone first.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	body   *body
}

// NewRequest builds a Request. A nil header is replaced by an empty one.
func NewRequest(method string, u *url.URL, header http.Header, rc io.ReadCloser) *Request {
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: header,
		body:   &body{rc: rc},
	}
}

// Body consumes the request body.
func (r *Request) Body() (io.ReadCloser, error) { return r.body.take() }

// BodyUsed reports whether the body has been consumed.
func (r *Request) BodyUsed() bool { return r.body.isUsed() }

// Clone duplicates the request, including its unread body.
func (r *Request) Clone() (*Request, error) {
	b, err := r.body.tee()
	if err != nil {
		return nil, err
	}
	u := *r.URL
	return &Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header.Clone(),
		body:   b,
	}, nil
}

// AcceptsHTML reports whether any Accept header line asks for text/html.
func (r *Request) AcceptsHTML() bool {
	return strings.Contains(strings.Join(r.Header.Values("Accept"), ","), "text/html")
}

// CacheKey is the request identity inside a partition. Partitions are
// bound to one origin, so only the path and query take part.
func (r *Request) CacheKey() string {
	return cachestore.Key(r.Method, r.URL.RequestURI())
}

// Source names where a response came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Response is a response produced by the network or read from a partition.
// Like Request, its body may be consumed once.
type Response struct {
	Status int
	Header http.Header
	Source Source
	body   *body
}

// NewResponse builds a Response. A nil header is replaced by an empty one.
func NewResponse(status int, header http.Header, rc io.ReadCloser, source Source) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{Status: status, Header: header, Source: source, body: &body{rc: rc}}
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Body consumes the response body.
func (r *Response) Body() (io.ReadCloser, error) { return r.body.take() }

// BodyUsed reports whether the body has been consumed.
func (r *Response) BodyUsed() bool { return r.body.isUsed() }

// Bytes consumes and returns the whole body.
func (r *Response) Bytes() ([]byte, error) {
	rc, err := r.body.take()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Clone duplicates the response, including its unread body.
func (r *Response) Clone() (*Response, error) {
	b, err := r.body.tee()
	if err != nil {
		return nil, err
	}
	return &Response{Status: r.Status, Header: r.Header.Clone(), Source: r.Source, body: b}, nil
}

// toEntry consumes the response and files it under req's identity.
func (r *Response) toEntry(req *Request) (*cachestore.Entry, error) {
	data, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	return &cachestore.Entry{
		Method:   req.Method,
		URL:      req.URL.RequestURI(),
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     data,
		StoredAt: time.Now(),
	}, nil
}

// responseFromEntry turns a stored entry into a fresh, unconsumed Response.
func responseFromEntry(e *cachestore.Entry, source Source) *Response {
	return NewResponse(e.Status, e.Header.Clone(), io.NopCloser(bytes.NewReader(e.Body)), source)
}
