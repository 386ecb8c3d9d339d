package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrontMatter(t *testing.T) {
	text := "---\nuserPrompt: hello\nresolveBacklinks: false\n---\nBody text"
	fields, offset, err := SplitFrontMatter(text)
	require.NoError(t, err)
	assert.Equal(t, "hello", fields["userPrompt"])
	assert.Equal(t, false, fields["resolveBacklinks"])
	assert.Equal(t, "Body text", text[offset:])
}

func TestSplitFrontMatterNone(t *testing.T) {
	fields, offset, err := SplitFrontMatter("just a note\n---\n")
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, 0, offset)
}

func TestSplitFrontMatterUnterminated(t *testing.T) {
	fields, offset, err := SplitFrontMatter("---\nkey: value\nno close")
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, 0, offset)
}

func TestSplitFrontMatterDelimiterLastLine(t *testing.T) {
	text := "---\nkey: value\n---"
	fields, offset, err := SplitFrontMatter(text)
	require.NoError(t, err)
	assert.Equal(t, "value", fields["key"])
	assert.Equal(t, len(text), offset)
}

func TestSplitFrontMatterInvalidYAML(t *testing.T) {
	text := "---\nkey: [unclosed\n---\nbody"
	fields, offset, err := SplitFrontMatter(text)
	require.Error(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, "body", text[offset:])
}

func TestParseLinks(t *testing.T) {
	text := "See [[Alpha]] and [beta](notes/Beta.md) plus [[Gamma|alias]], " +
		"[site](https://example.com), [anchor](#top) and ![[pic.png]] then [[Delta#Heading]]"
	assert.Equal(t, []string{"Alpha", "notes/Beta.md", "Gamma", "pic.png", "Delta"}, ParseLinks(text))
}

func TestParseLinksUnescapes(t *testing.T) {
	assert.Equal(t, []string{"My Note.md"}, ParseLinks("[x](My%20Note.md)"))
}

func TestResolveLink(t *testing.T) {
	known := []string{"Alpha.md", "notes/Beta.md", "notes/sub/Gamma.md", "other/Gamma.md", "pic.png"}

	cases := []struct {
		target, from, want string
		ok                 bool
	}{
		{"Alpha", "x.md", "Alpha.md", true},
		{"notes/Beta.md", "x.md", "notes/Beta.md", true},
		{"Beta", "notes/index.md", "notes/Beta.md", true},
		{"Beta", "x.md", "notes/Beta.md", true},
		{"Gamma", "x.md", "", false},
		{"pic.png", "x.md", "pic.png", true},
		{"Missing", "x.md", "", false},
	}
	for _, c := range cases {
		got, ok := ResolveLink(c.target, c.from, known)
		assert.Equal(t, c.ok, ok, c.target)
		assert.Equal(t, c.want, got, c.target)
	}
}

func newTestStore() *MemoryStore {
	return NewMemoryStore(map[string]string{
		"A.md":    "---\nmode: replace\n---\nLinks to [[B]] and [[C]] and [[B]] again",
		"B.md":    "Links back to [[A]]",
		"C.md":    "Links to [[A]] and itself [[C]]",
		"D.md":    "Standalone",
		"img.png": "\x89PNG",
	})
}

func TestMemoryStoreForwardLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	links, err := s.ForwardLinks(ctx, "A.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"B.md", "C.md"}, links)

	links, err = s.ForwardLinks(ctx, "C.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.md"}, links, "self links are dropped")
}

func TestMemoryStoreBacklinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	back, err := s.Backlinks(ctx, "A.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"B.md", "C.md"}, back)

	back, err = s.Backlinks(ctx, "D.md")
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestMemoryStoreMetadataAndBody(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	md, err := s.Metadata(ctx, "A.md")
	require.NoError(t, err)
	assert.Equal(t, "replace", md.Fields["mode"])

	body, err := Body(ctx, s, "A.md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "Links to"))
}

func TestMemoryStoreNotFound(t *testing.T) {
	_, err := newTestStore().Read(context.Background(), "missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	text, err := ReadContent(ctx, s, "B.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "Links back to [[A]]", text)

	excluded, err := ReadContent(ctx, s, "B.md", []*regexp.Regexp{regexp.MustCompile(`^B`)})
	require.NoError(t, err)
	assert.Empty(t, excluded)

	img, err := ReadContent(ctx, s, "img.png", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	base := newTestStore()
	o := NewOverlay(base)
	o.Put("tmp/E.md", "Ephemeral linking [[D]]")

	text, err := o.Read(ctx, "tmp/E.md")
	require.NoError(t, err)
	assert.Equal(t, "Ephemeral linking [[D]]", text)

	_, err = base.Read(ctx, "tmp/E.md")
	assert.True(t, errors.Is(err, ErrNotFound), "ephemeral notes never reach the base")

	ids, err := o.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, ids, "tmp/E.md")
	assert.Contains(t, ids, "A.md")

	back, err := o.Backlinks(ctx, "D.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp/E.md"}, back)

	require.NoError(t, o.Write(ctx, "tmp/E.md", "changed"))
	_, err = base.Read(ctx, "tmp/E.md")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, o.Write(ctx, "D.md", "written through"))
	text, err = base.Read(ctx, "D.md")
	require.NoError(t, err)
	assert.Equal(t, "written through", text)
}

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".obsidian"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.md"), []byte("See [[Beta]]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "Beta.md"), []byte("Back to [A](../A.md)"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".obsidian", "app.json"), []byte("{}"), 0644))

	s, err := OpenFS(dir)
	require.NoError(t, err)

	ids, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.md", "notes/Beta.md"}, ids)

	links, err := s.ForwardLinks(ctx, "A.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/Beta.md"}, links)

	back, err := s.Backlinks(ctx, "notes/Beta.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.md"}, back)

	require.NoError(t, s.Write(ctx, "C.md", "Also [[Beta]]"))
	back, err = s.Backlinks(ctx, "notes/Beta.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.md", "C.md"}, back, "write invalidates the backlink index")

	require.NoError(t, s.Write(ctx, "A.md", "rewritten"))
	text, err := s.Read(ctx, "A.md")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", text, "write invalidates the read cache")

	_, err = s.Read(ctx, "../outside.md")
	assert.Error(t, err)

	_, err = s.Read(ctx, "nope.md")
	assert.True(t, errors.Is(err, ErrNotFound))
}
