package canvas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/internal/logging"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/payload"
	"github.com/richinex/cloudatlas/vault"
)

var (
	// ErrNoInputNode is returned when a canvas has no input node.
	ErrNoInputNode = errors.New("no input node found")
	// ErrMultipleInputNodes is returned when a canvas has more than one input node.
	ErrMultipleInputNodes = errors.New("multiple input nodes found")
)

// Boilerplate is appended to the system text of every canvas request.
const Boilerplate = "Use the content in 'input' as the main context, consider the 'additional_context' map " +
	"for related information, and respond based on the instructions in 'user_prompt'. Assist the user by " +
	"synthesizing information from these elements into coherent and useful insights or actions."

// IndexSuffix marks a context entry that stands for the notes it links to.
const IndexSuffix = ".index.md"

// Scaffolding is a resolved canvas: the payload to send plus the document
// and input node the responses are attached to.
type Scaffolding struct {
	Payload model.Payload
	Canvas  *Canvas
	Input   Node
}

// Resolver turns canvases into payloads.
type Resolver struct {
	store    vault.Store
	settings config.Settings
	logger   *zap.Logger
	newID    func() string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRequestIDs sets the request id generator.
func WithRequestIDs(gen func() string) ResolverOption {
	return func(r *Resolver) { r.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logging.OrNop(l) }
}

// NewResolver creates a resolver reading file nodes from store.
func NewResolver(store vault.Store, settings config.Settings, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		settings: settings,
		logger:   zap.NewNop(),
		newID:    model.NewRequestID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the payload of c. Exactly one input node is required.
func (r *Resolver) Resolve(ctx context.Context, c *Canvas) (*Scaffolding, error) {
	inputs := c.NodesWithRole(RoleInput)
	switch {
	case len(inputs) == 0:
		return nil, ErrNoInputNode
	case len(inputs) > 1:
		return nil, fmt.Errorf("%w: %d", ErrMultipleInputNodes, len(inputs))
	}
	input := inputs[0]

	links := vault.Expander{
		Store:    r.store,
		MaxDepth: r.settings.Flow.MaxLinkDepth,
		Logger:   r.logger,
	}

	acc := model.Payload{
		Messages:   []model.Message{{User: &model.User{AdditionalContext: map[string]string{}}}},
		Options:    r.settings.PayloadOptions(),
		Provider:   r.settings.PayloadProvider(),
		LLMOptions: r.settings.LLMOptions(),
		RequestID:  r.newID(),
	}
	fold := func(u model.User) error {
		merged, err := payload.Merge(&acc, &model.Payload{Messages: []model.Message{{User: &u}}})
		if err != nil {
			return err
		}
		acc = merged
		return nil
	}

	for _, n := range r.scoped(c, RoleUserPrompt, input) {
		if err := fold(model.User{UserPrompt: model.String(r.content(ctx, n))}); err != nil {
			return nil, err
		}
	}

	for _, n := range c.NodesWithRole(RoleContext) {
		entries := map[string]string{}
		key := model.SyntheticID(n.ID)
		if n.IsFile() {
			key = model.FileID(n.File)
		}
		if text := r.content(ctx, n); text != "" {
			entries[key.String()] = text
		}
		if n.IsFile() && links.RequestsExpansion(ctx, n.File) {
			links.ForwardLinks(ctx, n.File, entries, map[string]bool{n.File: true})
		}
		if err := fold(model.User{AdditionalContext: entries}); err != nil {
			return nil, err
		}
	}

	inputUser := model.User{
		Input:             model.String(r.content(ctx, input)),
		AdditionalContext: map[string]string{},
	}
	if input.IsFile() {
		if r.settings.Canvas.ResolveLinks {
			links.ForwardLinks(ctx, input.File, inputUser.AdditionalContext, map[string]bool{input.File: true})
		}
		if r.settings.Canvas.ResolveBacklinks {
			links.Backlinks(ctx, input.File, inputUser.AdditionalContext)
		}
	}
	if err := fold(inputUser); err != nil {
		return nil, err
	}

	var systems []string
	for _, n := range r.scoped(c, RoleSystem, input) {
		systems = append(systems, r.content(ctx, n))
	}
	systems = append(systems, Boilerplate)
	acc.Messages[0].System = model.String(payload.JoinStrings(systems...))

	r.logger.Debug("resolved canvas",
		zap.String("request_id", acc.RequestID),
		zap.Int("nodes", len(c.Nodes)),
		zap.Int("context_entries", len(acc.Messages[0].User.AdditionalContext)))

	return &Scaffolding{Payload: acc, Canvas: c, Input: input}, nil
}

// FanOut expands a payload whose context holds exactly one index entry into
// one payload per note the index links to. Each variant replaces the index
// entry with one item and gets a fresh request id. Any other payload is
// returned as the only element.
func (r *Resolver) FanOut(ctx context.Context, p model.Payload) ([]model.Payload, error) {
	user := p.LastMessage().User
	if user == nil {
		return []model.Payload{p}, nil
	}

	var indexes []string
	for key := range user.AdditionalContext {
		if id := model.ParseContentID(key); id.Kind == model.KindFile && strings.HasSuffix(id.Value, IndexSuffix) {
			indexes = append(indexes, key)
		}
	}
	if len(indexes) != 1 {
		return []model.Payload{p}, nil
	}
	index := indexes[0]

	items, err := r.store.ForwardLinks(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	if len(items) == 0 {
		r.logger.Warn("index links to no notes, sending a single request", zap.String("index", index))
		return []model.Payload{p}, nil
	}

	variants := make([]model.Payload, 0, len(items))
	for _, item := range items {
		content, err := vault.ReadContent(ctx, r.store, item, nil)
		if err != nil {
			r.logger.Warn("skipping index item", zap.String("item", item), zap.Error(err))
			continue
		}
		v := p.Clone()
		ctxMap := v.Messages[len(v.Messages)-1].User.AdditionalContext
		delete(ctxMap, index)
		ctxMap[item] = content
		v.RequestID = r.newID()
		variants = append(variants, v)
	}
	return variants, nil
}

// scoped returns the nodes of role in the configured inclusion scope.
func (r *Resolver) scoped(c *Canvas, role Role, input Node) []Node {
	nodes := c.NodesWithRole(role)
	if r.settings.Canvas.Scope != config.CanvasScopeConnected {
		return nodes
	}
	var out []Node
	for _, n := range nodes {
		if c.Connected(n.ID, input.ID) {
			out = append(out, n)
		}
	}
	return out
}

// content returns the text of a node: literal text, or the filtered file
// content for file nodes.
func (r *Resolver) content(ctx context.Context, n Node) string {
	if !n.IsFile() {
		return n.Text
	}
	text, err := vault.ReadContent(ctx, r.store, n.File, nil)
	if err != nil {
		r.logger.Warn("failed to read canvas file node", zap.String("file", n.File), zap.Error(err))
		return ""
	}
	if vault.IsMarkdown(n.File) {
		if _, offset, err := vault.SplitFrontMatter(text); err == nil {
			text = text[offset:]
		}
	}
	return strings.TrimSpace(text)
}
