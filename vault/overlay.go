package vault

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Overlay layers ephemeral notes over a base store. Ephemeral notes shadow
// base notes of the same identifier and are never persisted; writes to any
// other identifier reach the base store.
type Overlay struct {
	base Store

	mu        sync.RWMutex
	ephemeral map[string]string
}

// NewOverlay wraps base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, ephemeral: make(map[string]string)}
}

// Put adds or replaces an ephemeral note.
func (o *Overlay) Put(id, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ephemeral[id] = content
}

func (o *Overlay) lookup(id string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	text, ok := o.ephemeral[id]
	return text, ok
}

// Read returns the ephemeral text of id, falling back to the base store.
func (o *Overlay) Read(ctx context.Context, id string) (string, error) {
	if text, ok := o.lookup(id); ok {
		return text, nil
	}
	return o.base.Read(ctx, id)
}

// Write updates an ephemeral note in place, or writes through to the base.
func (o *Overlay) Write(ctx context.Context, id string, content string) error {
	o.mu.Lock()
	if _, ok := o.ephemeral[id]; ok {
		o.ephemeral[id] = content
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return o.base.Write(ctx, id, content)
}

// ForwardLinks returns the resolved link targets of id.
func (o *Overlay) ForwardLinks(ctx context.Context, id string) ([]string, error) {
	if _, ok := o.lookup(id); ok {
		return forwardLinks(ctx, o, id)
	}
	return o.base.ForwardLinks(ctx, id)
}

// Backlinks returns the base backlinks of id plus ephemeral notes linking it.
func (o *Overlay) Backlinks(ctx context.Context, id string) ([]string, error) {
	sources, err := o.base.Backlinks(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, err := ListCatalog(ctx, o)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		seen[s] = struct{}{}
	}
	for src, text := range o.ephemeral {
		if _, dup := seen[src]; dup {
			continue
		}
		for _, dst := range catalog.ResolveAll(ParseLinks(text), src) {
			if dst == id {
				sources = append(sources, src)
				break
			}
		}
	}
	o.mu.RUnlock()

	sort.Strings(sources)
	return sources, nil
}

// Metadata returns the front-matter of id.
func (o *Overlay) Metadata(ctx context.Context, id string) (Metadata, error) {
	text, ok := o.lookup(id)
	if !ok {
		return o.base.Metadata(ctx, id)
	}
	fields, offset, err := SplitFrontMatter(text)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Fields: fields, FrontMatterOffset: offset}, nil
}

// List returns base and ephemeral identifiers starting with prefix.
func (o *Overlay) List(ctx context.Context, prefix string) ([]string, error) {
	ids, err := o.base.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	o.mu.RLock()
	for id := range o.ephemeral {
		if _, dup := seen[id]; dup || !strings.HasPrefix(id, prefix) {
			continue
		}
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

// Verify Overlay implements Store
var _ Store = (*Overlay)(nil)
