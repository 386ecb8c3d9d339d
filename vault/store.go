// Package vault provides access to the note vault: note content, front-matter
// metadata and the link graph.
//
// Information Hiding:
// - Storage backend (filesystem, memory, ephemeral overlay) hidden behind Store
// - Link syntax and link resolution rules encapsulated
// - Read caching hidden inside the filesystem backend

package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned when an identifier does not resolve to a note.
var ErrNotFound = errors.New("note not found")

// Metadata is the decoded front-matter of a note.
type Metadata struct {
	Fields            map[string]any
	FrontMatterOffset int
}

// Store is the content store and link-graph oracle used by the engines.
// Identifiers are vault-relative paths using forward slashes.
type Store interface {
	// Read returns the full text of a note, front-matter included.
	Read(ctx context.Context, id string) (string, error)

	// Write replaces the full text of a note, creating it if needed.
	Write(ctx context.Context, id string, content string) error

	// ForwardLinks returns the resolved targets linked from id, in order of
	// first appearance.
	ForwardLinks(ctx context.Context, id string) ([]string, error)

	// Backlinks returns the notes linking to id, sorted.
	Backlinks(ctx context.Context, id string) ([]string, error)

	// Metadata returns the front-matter of id.
	Metadata(ctx context.Context, id string) (Metadata, error)

	// List returns every identifier starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Body returns the text of a note after its front-matter.
func Body(ctx context.Context, s Store, id string) (string, error) {
	text, err := s.Read(ctx, id)
	if err != nil {
		return "", err
	}
	_, offset, err := SplitFrontMatter(text)
	if err != nil {
		return text, nil
	}
	return text[offset:], nil
}

// ReadContent reads id for inclusion as context.
// Identifiers matching an exclusion pattern yield "" without error: the
// caller may still traverse through them. Images are returned as data URLs.
func ReadContent(ctx context.Context, s Store, id string, exclusions []*regexp.Regexp) (string, error) {
	for _, re := range exclusions {
		if re.MatchString(id) {
			return "", nil
		}
	}
	text, err := s.Read(ctx, id)
	if err != nil {
		return "", err
	}
	if IsImage(id) {
		return imageDataURL(id, text), nil
	}
	return text, nil
}

// IsImage reports whether id names a supported image attachment.
func IsImage(id string) bool {
	switch strings.ToLower(path.Ext(id)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	}
	return false
}

// IsMarkdown reports whether id names a markdown note.
func IsMarkdown(id string) bool {
	return strings.HasSuffix(id, ".md")
}

func imageDataURL(id, raw string) string {
	mime := "image/png"
	switch strings.ToLower(path.Ext(id)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString([]byte(raw)))
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
