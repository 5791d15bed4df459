package cachestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	seq                      -> last assigned partition sequence
//	part/<name>              -> partition sequence (big endian uint64)
//	entry/<name>\x00<key>    -> JSON encoded badgerRecord
var (
	keySeq         = []byte("seq")
	prefixPart     = []byte("part/")
	prefixEntry    = []byte("entry/")
	entrySeparator = byte(0)
)

func keyPart(name string) []byte {
	return append(append([]byte{}, prefixPart...), name...)
}

func keyEntryPrefix(name string) []byte {
	k := append(append([]byte{}, prefixEntry...), name...)
	return append(k, entrySeparator)
}

func keyEntry(name, cacheKey string) []byte {
	return append(keyEntryPrefix(name), cacheKey...)
}

type badgerRecord struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt int64       `json:"stored_at"`
}

func encodeRecord(e *Entry) ([]byte, error) {
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return json.Marshal(badgerRecord{
		Method:   e.Method,
		URL:      e.URL,
		Status:   e.Status,
		Header:   e.Header,
		Body:     e.Body,
		StoredAt: storedAt.UnixMilli(),
	})
}

func decodeRecord(val []byte) (*Entry, error) {
	var r badgerRecord
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}
	return &Entry{
		Method:   r.Method,
		URL:      r.URL,
		Status:   r.Status,
		Header:   r.Header,
		Body:     r.Body,
		StoredAt: time.UnixMilli(r.StoredAt),
	}, nil
}

// BadgerStore persists partitions in an embedded badger database.
type BadgerStore struct {
	db *badgerdb.DB
}

// OpenBadgerStore opens (or creates) a badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening badger store %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerMemory opens a badger database that lives only in memory.
func OpenBadgerMemory() (*BadgerStore, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Open(_ context.Context, name string) (Partition, error) {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyPart(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		var seq uint64
		item, err := txn.Get(keySeq)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badgerdb.ErrKeyNotFound):
			return err
		}
		seq++

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		if err := txn.Set(keySeq, buf); err != nil {
			return err
		}
		return txn.Set(keyPart(name), buf)
	})
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", name, err)
	}
	return &badgerPartition{db: s.db, name: name}, nil
}

func (s *BadgerStore) Has(_ context.Context, name string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyPart(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking partition %s: %w", name, err)
	}
	return found, nil
}

func (s *BadgerStore) Keys(_ context.Context) ([]string, error) {
	type named struct {
		name string
		seq  uint64
	}
	var parts []named

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefixPart
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixPart); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefixPart):])
			err := item.Value(func(val []byte) error {
				parts = append(parts, named{name: name, seq: binary.BigEndian.Uint64(val)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].seq < parts[j].seq })
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.name
	}
	return names, nil
}

func (s *BadgerStore) Delete(_ context.Context, name string) (bool, error) {
	var existed bool
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyPart(name))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(keyPart(name))
	})
	if err != nil {
		return false, fmt.Errorf("deleting partition %s: %w", name, err)
	}
	if !existed {
		return false, nil
	}
	if err := s.db.DropPrefix(keyEntryPrefix(name)); err != nil {
		return true, fmt.Errorf("dropping entries of %s: %w", name, err)
	}
	return true, nil
}

func (s *BadgerStore) Match(ctx context.Context, key string) (*Entry, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		p := &badgerPartition{db: s.db, name: name}
		e, err := p.Match(ctx, key)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerPartition struct {
	db   *badgerdb.DB
	name string
}

func (p *badgerPartition) Name() string { return p.name }

func (p *badgerPartition) Match(_ context.Context, key string) (*Entry, error) {
	var e *Entry
	err := p.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyEntry(p.name, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *badgerPartition) Put(ctx context.Context, e *Entry) error {
	return p.PutAll(ctx, []*Entry{e})
}

func (p *badgerPartition) PutAll(_ context.Context, entries []*Entry) error {
	return p.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyPart(p.name)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return ErrPartitionGone
			}
			return err
		}
		for _, e := range entries {
			val, err := encodeRecord(e)
			if err != nil {
				return err
			}
			if err := txn.Set(keyEntry(p.name, e.Key()), val); err != nil {
				return fmt.Errorf("storing %s: %w", e.Key(), err)
			}
		}
		return nil
	})
}

func (p *badgerPartition) Delete(_ context.Context, key string) (bool, error) {
	var existed bool
	err := p.db.Update(func(txn *badgerdb.Txn) error {
		k := keyEntry(p.name, key)
		_, err := txn.Get(k)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return existed, nil
}

func (p *badgerPartition) Entries(_ context.Context) ([]*Entry, error) {
	var out []*Entry
	prefix := keyEntryPrefix(p.name)
	err := p.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p.name, err)
	}
	return out, nil
}
