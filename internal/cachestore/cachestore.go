// Package cachestore implements the named, origin-scoped cache partitions
// the offline worker orchestrates. Each partition maps a request identity
// to a stored response.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ziadkadry99/sitecache/internal/config"
	"github.com/ziadkadry99/sitecache/internal/db"
)

var (
	// ErrNotFound is returned when a key or partition is absent.
	ErrNotFound = errors.New("cachestore: not found")
	// ErrPartitionGone is returned when writing through a handle whose
	// partition was deleted after it was opened.
	ErrPartitionGone = errors.New("cachestore: partition deleted")
)

// Entry is a stored response together with the request identity it is filed under.
type Entry struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Key returns the request identity the entry is stored under.
func (e *Entry) Key() string { return Key(e.Method, e.URL) }

// clone returns a deep copy so callers never alias store-owned memory.
func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// Key builds the request identity for method and rawURL. The fragment is
// never part of the identity.
func Key(method, rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.ToUpper(method) + " " + rawURL
}

// Store is the set of partitions belonging to one origin.
type Store interface {
	// Open returns the named partition, creating it if needed.
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists partition names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a partition and everything in it. It reports whether
	// the partition existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks key up in every partition, in creation order.
	Match(ctx context.Context, key string) (*Entry, error)
	Close() error
}

// Partition is a single named cache.
type Partition interface {
	Name() string
	Match(ctx context.Context, key string) (*Entry, error)
	// Put stores e, replacing any entry under the same key.
	Put(ctx context.Context, e *Entry) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []*Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Entries(ctx context.Context) ([]*Entry, error)
}

// New opens the store selected by cfg.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		database, err := db.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return NewSQLiteStore(database, true), nil
	case config.DriverBadger:
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
