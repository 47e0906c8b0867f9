package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the Store used when no database is configured. It is
// safe for concurrent use and keeps insertion ids stable for the life
// of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int
	sources map[string]*Source
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, sources: make(map[string]*Source)}
}

// Seed loads name to URL pairs, typically from the [sources] config
// table. Existing entries win.
func (s *MemoryStore) Seed(aliases map[string]string) {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = s.Create(&Source{Name: name, URL: aliases[name], Active: true})
	}
}

func (s *MemoryStore) List(activeOnly bool) ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sources []*Source
	for _, src := range s.sources {
		if activeOnly && !src.Active {
			continue
		}
		copied := *src
		sources = append(sources, &copied)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

func (s *MemoryStore) Get(name string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	copied := *src
	return &copied, nil
}

func (s *MemoryStore) Create(src *Source) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[src.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, src.Name)
	}
	now := time.Now()
	src.ID = s.nextID
	s.nextID++
	src.CreatedAt = now
	src.UpdatedAt = now

	copied := *src
	s.sources[src.Name] = &copied
	return src, nil
}

func (s *MemoryStore) Update(src *Source) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sources[src.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Name)
	}
	cur.URL = src.URL
	cur.Description = src.Description
	cur.Active = src.Active
	cur.UpdatedAt = time.Now()

	copied := *cur
	*src = copied
	return src, nil
}

func (s *MemoryStore) SetActive(name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	src.Active = active
	src.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.sources, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
