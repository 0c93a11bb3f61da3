package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps descriptors in process. It is the default and loses
// everything on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Descriptor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Descriptor)}
}

func (s *MemoryStore) Save(ctx context.Context, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[d.ID] = *d
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	s.mu.RLock()
	d, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Descriptor, error) {
	s.mu.RLock()
	out := make([]*Descriptor, 0, len(s.items))
	for _, d := range s.items {
		d := d
		out = append(out, &d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
