package vault

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	// [[target]], [[target|alias]], [[target#heading]], ![[embed]]
	wikiLinkRe = regexp.MustCompile(`\[\[([^\]|#]+)(?:#[^\]|]*)?(?:\|[^\]]*)?\]\]`)
	// [text](target) where target is not a URL
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)
)

// ParseLinks returns the raw link targets of text in order of appearance.
// URLs and same-note anchors are not links.
func ParseLinks(text string) []string {
	type hit struct {
		pos    int
		target string
	}
	var hits []hit

	for _, m := range wikiLinkRe.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{m[0], strings.TrimSpace(text[m[2]:m[3]])})
	}
	for _, m := range markdownLinkRe.FindAllStringSubmatchIndex(text, -1) {
		target := text[m[2]:m[3]]
		if strings.Contains(target, "://") || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "mailto:") {
			continue
		}
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = target[:i]
		}
		if decoded, err := url.PathUnescape(target); err == nil {
			target = decoded
		}
		hits = append(hits, hit{m[0], target})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	targets := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.target != "" {
			targets = append(targets, h.target)
		}
	}
	return targets
}

// ResolveLink maps a raw link target written in note from onto a known
// identifier. It tries, in order: the exact path, the path relative to the
// linking note, each with ".md" appended, then a unique basename match.
func ResolveLink(target, from string, known []string) (string, bool) {
	return NewCatalog(known).Resolve(target, from)
}

// Catalog indexes the identifiers of a store for repeated link resolution.
type Catalog struct {
	set    map[string]struct{}
	byBase map[string][]string
}

// NewCatalog indexes known.
func NewCatalog(known []string) *Catalog {
	c := &Catalog{
		set:    make(map[string]struct{}, len(known)),
		byBase: make(map[string][]string, len(known)),
	}
	for _, k := range known {
		if _, dup := c.set[k]; dup {
			continue
		}
		c.set[k] = struct{}{}
		kb := path.Base(k)
		c.byBase[kb] = append(c.byBase[kb], k)
		if trimmed := strings.TrimSuffix(kb, ".md"); trimmed != kb {
			c.byBase[trimmed] = append(c.byBase[trimmed], k)
		}
	}
	return c
}

// ListCatalog indexes every identifier in s.
func ListCatalog(ctx context.Context, s Store) (*Catalog, error) {
	known, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return NewCatalog(known), nil
}

// Resolve maps target, written in note from, onto a catalogued identifier.
func (c *Catalog) Resolve(target, from string) (string, bool) {
	target = strings.TrimPrefix(target, "/")
	candidates := []string{path.Clean(target)}
	if dir := path.Dir(from); dir != "." {
		candidates = append(candidates, path.Join(dir, target))
	}
	for _, cand := range candidates {
		if _, ok := c.set[cand]; ok {
			return cand, true
		}
		if _, ok := c.set[cand+".md"]; ok {
			return cand + ".md", true
		}
	}

	if matches := c.byBase[path.Base(target)]; len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

// ResolveAll resolves targets written in note from, dropping unknown
// targets, self links and duplicates.
func (c *Catalog) ResolveAll(targets []string, from string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		resolved, ok := c.Resolve(t, from)
		if !ok || resolved == from {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out
}

// LinksOf reads id from s and resolves its links against c.
func (c *Catalog) LinksOf(ctx context.Context, s Store, id string) ([]string, error) {
	text, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.ResolveAll(ParseLinks(text), id), nil
}

// forwardLinks resolves the links of id against every identifier in s.
func forwardLinks(ctx context.Context, s Store, id string) ([]string, error) {
	catalog, err := ListCatalog(ctx, s)
	if err != nil {
		return nil, err
	}
	return catalog.LinksOf(ctx, s, id)
}

// buildBacklinkIndex maps every target to the sorted markdown notes linking it.
func buildBacklinkIndex(ctx context.Context, s Store) (map[string][]string, error) {
	known, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	catalog := NewCatalog(known)
	index := make(map[string][]string)
	for _, src := range known {
		if !IsMarkdown(src) {
			continue
		}
		text, err := s.Read(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, dst := range catalog.ResolveAll(ParseLinks(text), src) {
			index[dst] = append(index[dst], src)
		}
	}
	for _, sources := range index {
		sort.Strings(sources)
	}
	return index, nil
}
