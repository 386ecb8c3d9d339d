package canvas

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/vault"
)

func testSettings() config.Settings {
	return config.Settings{
		Provider: config.ProviderCloudAtlas,
		LLM:      config.LLMConfig{MaxTokens: 4096, Temperature: 0.7},
		Canvas:   config.CanvasConfig{Scope: config.CanvasScopeGraph},
		Flow:     config.FlowConfig{MaxLinkDepth: 5},
	}
}

func sequentialIDs() func() string {
	calls := 0
	return func() string {
		calls++
		return fmt.Sprintf("req-%d", calls)
	}
}

func textNode(id, text string, role Role) Node {
	return Node{ID: id, Type: TypeText, Text: text, Width: 250, Height: 60, Role: role}
}

func fileNode(id, file string, role Role) Node {
	return Node{ID: id, Type: TypeFile, File: file, Width: 250, Height: 60, Role: role}
}

func newTestResolver(store vault.Store, settings config.Settings) *Resolver {
	return NewResolver(store, settings, WithRequestIDs(sequentialIDs()))
}

func TestResolveTextNodes(t *testing.T) {
	c := &Canvas{Nodes: []Node{
		textNode("in", "X", RoleInput),
		textNode("up", "What is X?", RoleUserPrompt),
		textNode("sys", "Be terse", RoleSystem),
	}}
	r := newTestResolver(vault.NewMemoryStore(nil), testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)

	require.Len(t, sc.Payload.Messages, 1)
	msg := sc.Payload.Messages[0]
	assert.Equal(t, "X", model.Deref(msg.User.Input))
	assert.Equal(t, "What is X?", model.Deref(msg.User.UserPrompt))
	assert.Equal(t, "Be terse\n"+Boilerplate, model.Deref(msg.System))
	assert.Equal(t, "req-1", sc.Payload.RequestID)
	assert.Equal(t, model.ProviderAuto, sc.Payload.Provider)
	assert.Equal(t, "in", sc.Input.ID)
}

func TestResolveWithoutSystemUsesBoilerplate(t *testing.T) {
	c := &Canvas{Nodes: []Node{textNode("in", "X", RoleInput)}}
	r := newTestResolver(vault.NewMemoryStore(nil), testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Boilerplate, model.Deref(sc.Payload.Messages[0].System))
}

func TestResolveRequiresExactlyOneInput(t *testing.T) {
	r := newTestResolver(vault.NewMemoryStore(nil), testSettings())

	_, err := r.Resolve(context.Background(), &Canvas{Nodes: []Node{textNode("up", "?", RoleUserPrompt)}})
	assert.ErrorIs(t, err, ErrNoInputNode)

	_, err = r.Resolve(context.Background(), &Canvas{Nodes: []Node{
		textNode("a", "one", RoleInput),
		textNode("b", "two", RoleInput),
	}})
	assert.ErrorIs(t, err, ErrMultipleInputNodes)
}

func TestResolveContextNodes(t *testing.T) {
	store := vault.NewMemoryStore(map[string]string{
		"Notes/B.md": "---\ntags: [b]\n---\nBeta body\n",
	})
	c := &Canvas{Nodes: []Node{
		textNode("in", "X", RoleInput),
		textNode("c1", "loose fact", RoleContext),
		fileNode("c2", "Notes/B.md", RoleContext),
		fileNode("c3", "Notes/Missing.md", RoleContext),
	}}
	r := newTestResolver(store, testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"c1":         "loose fact",
		"Notes/B.md": "Beta body",
	}, sc.Payload.Messages[0].User.AdditionalContext)
}

func TestResolveContextNodeExpandsLinksWhenRequested(t *testing.T) {
	store := vault.NewMemoryStore(map[string]string{
		"Notes/Hub.md":   "---\nresolveForwardLinks: true\n---\nSee [[Spoke]]",
		"Notes/Spoke.md": "Spoke body",
	})
	c := &Canvas{Nodes: []Node{
		textNode("in", "X", RoleInput),
		fileNode("hub", "Notes/Hub.md", RoleContext),
	}}
	r := newTestResolver(store, testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)

	ctx := sc.Payload.Messages[0].User.AdditionalContext
	assert.Equal(t, "See [[Spoke]]", ctx["Notes/Hub.md"])
	assert.Equal(t, "Spoke body", ctx["Notes/Spoke.md"])
}

func TestResolveFileInputLinks(t *testing.T) {
	store := vault.NewMemoryStore(map[string]string{
		"Notes/A.md": "Alpha [[B]]",
		"Notes/B.md": "Beta",
		"Notes/C.md": "Links to [[A]]",
	})
	c := &Canvas{Nodes: []Node{fileNode("in", "Notes/A.md", RoleInput)}}

	settings := testSettings()
	r := newTestResolver(store, settings)
	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	user := sc.Payload.Messages[0].User
	assert.Equal(t, "Alpha [[B]]", model.Deref(user.Input))
	assert.Empty(t, user.AdditionalContext)

	settings.Canvas.ResolveLinks = true
	settings.Canvas.ResolveBacklinks = true
	r = newTestResolver(store, settings)
	sc, err = r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Notes/B.md": "Beta",
		"Notes/C.md": "Links to [[A]]",
	}, sc.Payload.Messages[0].User.AdditionalContext)
}

func TestResolveConnectedScope(t *testing.T) {
	c := &Canvas{
		Nodes: []Node{
			textNode("in", "X", RoleInput),
			textNode("near", "connected prompt", RoleUserPrompt),
			textNode("far", "loose prompt", RoleUserPrompt),
			textNode("sys-far", "loose system", RoleSystem),
		},
		Edges: []Edge{{ID: "e1", FromNode: "near", ToNode: "in"}},
	}

	settings := testSettings()
	sc, err := newTestResolver(vault.NewMemoryStore(nil), settings).Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "connected prompt\nloose prompt", model.Deref(sc.Payload.Messages[0].User.UserPrompt))
	assert.Equal(t, "loose system\n"+Boilerplate, model.Deref(sc.Payload.Messages[0].System))

	settings.Canvas.Scope = config.CanvasScopeConnected
	sc, err = newTestResolver(vault.NewMemoryStore(nil), settings).Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "connected prompt", model.Deref(sc.Payload.Messages[0].User.UserPrompt))
	assert.Equal(t, Boilerplate, model.Deref(sc.Payload.Messages[0].System))
}

func indexStore(items int) *vault.MemoryStore {
	notes := map[string]string{}
	index := ""
	for i := 1; i <= items; i++ {
		name := fmt.Sprintf("Item%d", i)
		notes["Lists/"+name+".md"] = fmt.Sprintf("item %d body", i)
		index += "- [[" + name + "]]\n"
	}
	if index == "" {
		index = "nothing yet\n"
	}
	notes["Lists/topics.index.md"] = index
	return vault.NewMemoryStore(notes)
}

func TestFanOutIndex(t *testing.T) {
	store := indexStore(3)
	c := &Canvas{Nodes: []Node{
		textNode("in", "Summarise", RoleInput),
		fileNode("idx", "Lists/topics.index.md", RoleContext),
		textNode("keep", "shared", RoleContext),
	}}
	r := newTestResolver(store, testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	require.Contains(t, sc.Payload.Messages[0].User.AdditionalContext, "Lists/topics.index.md")

	variants, err := r.FanOut(context.Background(), sc.Payload)
	require.NoError(t, err)
	require.Len(t, variants, 3)

	ids := map[string]bool{sc.Payload.RequestID: true}
	for i, v := range variants {
		ctx := v.Messages[0].User.AdditionalContext
		item := fmt.Sprintf("Lists/Item%d.md", i+1)

		assert.NotContains(t, ctx, "Lists/topics.index.md")
		assert.Equal(t, fmt.Sprintf("item %d body", i+1), ctx[item])
		assert.Equal(t, "shared", ctx["keep"])
		assert.Len(t, ctx, 2)
		assert.Equal(t, "Summarise", model.Deref(v.Messages[0].User.Input))

		assert.False(t, ids[v.RequestID], "request id %s reused", v.RequestID)
		ids[v.RequestID] = true
	}

	// The base payload is untouched.
	assert.Contains(t, sc.Payload.Messages[0].User.AdditionalContext, "Lists/topics.index.md")
}

func TestFanOutEmptyIndexSendsBase(t *testing.T) {
	store := indexStore(0)
	c := &Canvas{Nodes: []Node{
		textNode("in", "Summarise", RoleInput),
		fileNode("idx", "Lists/topics.index.md", RoleContext),
	}}
	r := newTestResolver(store, testSettings())

	sc, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)

	variants, err := r.FanOut(context.Background(), sc.Payload)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, sc.Payload, variants[0])
}

func TestFanOutWithoutIndex(t *testing.T) {
	r := newTestResolver(vault.NewMemoryStore(nil), testSettings())
	sc, err := r.Resolve(context.Background(), &Canvas{Nodes: []Node{textNode("in", "X", RoleInput)}})
	require.NoError(t, err)

	variants, err := r.FanOut(context.Background(), sc.Payload)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, sc.Payload.RequestID, variants[0].RequestID)
}

func TestFanOutIgnoresIndexURLs(t *testing.T) {
	store := indexStore(2)
	r := newTestResolver(store, testSettings())
	sc, err := r.Resolve(context.Background(), &Canvas{Nodes: []Node{textNode("in", "X", RoleInput)}})
	require.NoError(t, err)

	p := sc.Payload.Clone()
	user := p.Messages[0].User
	if user.AdditionalContext == nil {
		user.AdditionalContext = map[string]string{}
	}
	user.AdditionalContext["https://example.com/topics.index.md"] = "remote list"

	variants, err := r.FanOut(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, p.RequestID, variants[0].RequestID)
}
