package vault

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store over an in-memory map.
// Suitable for tests and ephemeral content. Thread-safe.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]string
}

// NewMemoryStore creates a store seeded with notes (path -> text).
func NewMemoryStore(notes map[string]string) *MemoryStore {
	copied := make(map[string]string, len(notes))
	for k, v := range notes {
		copied[k] = v
	}
	return &MemoryStore{notes: copied}
}

// Read returns the text of id.
func (s *MemoryStore) Read(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text, ok := s.notes[id]
	if !ok {
		return "", notFound(id)
	}
	return text, nil
}

// Write replaces the text of id.
func (s *MemoryStore) Write(ctx context.Context, id string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes[id] = content
	return nil
}

// ForwardLinks returns the resolved link targets of id.
func (s *MemoryStore) ForwardLinks(ctx context.Context, id string) ([]string, error) {
	return forwardLinks(ctx, s, id)
}

// Backlinks returns the notes linking to id.
func (s *MemoryStore) Backlinks(ctx context.Context, id string) ([]string, error) {
	index, err := buildBacklinkIndex(ctx, s)
	if err != nil {
		return nil, err
	}
	return index[id], nil
}

// Metadata returns the front-matter of id.
func (s *MemoryStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	text, err := s.Read(ctx, id)
	if err != nil {
		return Metadata{}, err
	}
	fields, offset, err := SplitFrontMatter(text)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Fields: fields, FrontMatterOffset: offset}, nil
}

// List returns the identifiers starting with prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Verify MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
