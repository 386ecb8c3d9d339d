package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultReadCacheSize = 512

// FSStore implements Store over a directory on disk.
// Reads are cached; the backlink index is built lazily and dropped on Write.
type FSStore struct {
	root  string
	cache *lru.Cache[string, string]

	mu        sync.Mutex
	backlinks map[string][]string
}

// OpenFS opens the vault rooted at dir.
func OpenFS(dir string) (*FSStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open vault: %s is not a directory", dir)
	}
	cache, err := lru.New[string, string](defaultReadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &FSStore{root: dir, cache: cache}, nil
}

// Root returns the vault directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) abs(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("identifier escapes vault: %s", id)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the text of id.
func (s *FSStore) Read(ctx context.Context, id string) (string, error) {
	if text, ok := s.cache.Get(id); ok {
		return text, nil
	}
	p, err := s.abs(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", notFound(id)
		}
		return "", fmt.Errorf("read %s: %w", id, err)
	}
	text := string(data)
	s.cache.Add(id, text)
	return text, nil
}

// Write replaces the text of id, creating parent folders as needed.
func (s *FSStore) Write(ctx context.Context, id string, content string) error {
	p, err := s.abs(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create folder for %s: %w", id, err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	s.cache.Remove(id)

	s.mu.Lock()
	s.backlinks = nil
	s.mu.Unlock()
	return nil
}

// ForwardLinks returns the resolved link targets of id.
func (s *FSStore) ForwardLinks(ctx context.Context, id string) ([]string, error) {
	return forwardLinks(ctx, s, id)
}

// Backlinks returns the notes linking to id.
func (s *FSStore) Backlinks(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backlinks == nil {
		index, err := buildBacklinkIndex(ctx, s)
		if err != nil {
			return nil, err
		}
		s.backlinks = index
	}
	return append([]string(nil), s.backlinks[id]...), nil
}

// Metadata returns the front-matter of id.
func (s *FSStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	text, err := s.Read(ctx, id)
	if err != nil {
		return Metadata{}, err
	}
	fields, offset, err := SplitFrontMatter(text)
	if err != nil {
		return Metadata{}, fmt.Errorf("%s: %w", id, err)
	}
	return Metadata{Fields: fields, FrontMatterOffset: offset}, nil
}

// List returns the identifiers starting with prefix. Hidden entries
// (dot-prefixed) are skipped.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Verify FSStore implements Store
var _ Store = (*FSStore)(nil)
