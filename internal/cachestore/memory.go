package cachestore

import (
	"context"
	"sync"
)

// MemoryStore keeps partitions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	parts map[string]*memoryPartition
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{parts: make(map[string]*memoryPartition)}
}

func (s *MemoryStore) Open(_ context.Context, name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.parts[name]; ok {
		return p, nil
	}
	p := &memoryPartition{name: name, entries: make(map[string]*Entry)}
	s.parts[name] = p
	s.order = append(s.order, name)
	return p, nil
}

func (s *MemoryStore) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.parts[name]
	return ok, nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		return false, nil
	}
	delete(s.parts, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	p.mu.Lock()
	p.gone = true
	p.entries = make(map[string]*Entry)
	p.keys = nil
	p.mu.Unlock()
	return true, nil
}

func (s *MemoryStore) Match(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	parts := make([]*memoryPartition, 0, len(s.order))
	for _, n := range s.order {
		parts = append(parts, s.parts[n])
	}
	s.mu.RUnlock()

	for _, p := range parts {
		e, err := p.Match(ctx, key)
		if err == nil {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Close() error { return nil }

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	gone    bool
	keys    []string
	entries map[string]*Entry
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(_ context.Context, key string) (*Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (p *memoryPartition) Put(ctx context.Context, e *Entry) error {
	return p.PutAll(ctx, []*Entry{e})
}

func (p *memoryPartition) PutAll(_ context.Context, entries []*Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return ErrPartitionGone
	}
	for _, e := range entries {
		k := e.Key()
		if _, ok := p.entries[k]; !ok {
			p.keys = append(p.keys, k)
		}
		p.entries[k] = e.clone()
	}
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return true, nil
}

func (p *memoryPartition) Entries(_ context.Context) ([]*Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Entry, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, p.entries[k].clone())
	}
	return out, nil
}
