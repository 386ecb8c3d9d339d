package vault

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Expander gathers the content of linked notes into a context map keyed by
// note identifier.
type Expander struct {
	Store Store
	// MaxDepth bounds recursive forward-link expansion; direct links are depth 1.
	MaxDepth int
	// Exclusions suppress content of matching notes. Matching notes are
	// still traversed.
	Exclusions []*regexp.Regexp
	Logger     *zap.Logger
}

// ForwardLinks adds the content of every note linked from id to out.
// A linked note whose front-matter sets resolveForwardLinks is expanded
// further while the depth allows. visited guards against cycles and is
// updated in place. The store is listed once per call.
func (x Expander) ForwardLinks(ctx context.Context, id string, out map[string]string, visited map[string]bool) {
	catalog, err := ListCatalog(ctx, x.Store)
	if err != nil {
		x.logger().Debug("vault listing unavailable", zap.String("note", id), zap.Error(err))
		return
	}
	x.forward(ctx, catalog, id, out, visited, 1)
}

func (x Expander) forward(ctx context.Context, catalog *Catalog, id string, out map[string]string, visited map[string]bool, depth int) {
	links, err := catalog.LinksOf(ctx, x.Store, id)
	if err != nil {
		x.logger().Debug("forward links unavailable", zap.String("note", id), zap.Error(err))
		return
	}

	for _, link := range links {
		if visited[link] {
			continue
		}
		visited[link] = true

		x.Add(ctx, link, out)

		if depth < x.MaxDepth && x.RequestsExpansion(ctx, link) {
			x.forward(ctx, catalog, link, out, visited, depth+1)
		}
	}
}

// Backlinks adds the content of every note linking to id.
func (x Expander) Backlinks(ctx context.Context, id string, out map[string]string) {
	links, err := x.Store.Backlinks(ctx, id)
	if err != nil {
		x.logger().Debug("backlinks unavailable", zap.String("note", id), zap.Error(err))
		return
	}
	for _, link := range links {
		if link != id {
			x.Add(ctx, link, out)
		}
	}
}

// Add reads id and stores its content in out unless it is excluded,
// unreadable or empty.
func (x Expander) Add(ctx context.Context, id string, out map[string]string) {
	content, err := ReadContent(ctx, x.Store, id, x.Exclusions)
	if err != nil {
		x.logger().Debug("skipping unreadable note", zap.String("note", id), zap.Error(err))
		return
	}
	if content != "" {
		out[id] = content
	}
}

// RequestsExpansion reports whether the front-matter of id sets
// resolveForwardLinks.
func (x Expander) RequestsExpansion(ctx context.Context, id string) bool {
	if !IsMarkdown(id) {
		return false
	}
	meta, err := x.Store.Metadata(ctx, id)
	if err != nil {
		return false
	}
	switch v := meta.Fields["resolveForwardLinks"].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

func (x Expander) logger() *zap.Logger {
	if x.Logger == nil {
		return zap.NewNop()
	}
	return x.Logger
}
