// Package engine composes flow layers into a single request payload,
// dispatches it and writes the result back into the vault.
//
// Information Hiding:
// - Layer iteration order, inheritance and prompt/input roles hidden behind Compose
// - Link, backlink and URL context resolution encapsulated
// - Cycle and depth guards for recursive link expansion hidden
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/fetch"
	"github.com/richinex/cloudatlas/flowconfig"
	"github.com/richinex/cloudatlas/internal/logging"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/payload"
	"github.com/richinex/cloudatlas/vault"
)

// ExclusionPatternError reports an exclusion pattern that does not compile.
type ExclusionPatternError struct {
	Layer   string
	Pattern string
	Err     error
}

func (e *ExclusionPatternError) Error() string {
	return fmt.Sprintf("invalid exclusion pattern %q in %s: %v", e.Pattern, e.Layer, e.Err)
}

func (e *ExclusionPatternError) Unwrap() error {
	return e.Err
}

// URLFetcher returns the text behind a URL. ok is false for content that
// should be skipped.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (text string, ok bool, err error)
}

// Engine composes flow layers read from a vault.
type Engine struct {
	store    vault.Store
	parser   *flowconfig.Parser
	fetcher  URLFetcher
	settings config.Settings
	logger   *zap.Logger
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithFetcher sets the URL fetcher. Without one, URL expansion is skipped.
func WithFetcher(f URLFetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithRequestIDs sets the request id generator.
func WithRequestIDs(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an engine over store.
func New(store vault.Store, settings config.Settings, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		parser:   flowconfig.NewParser(store),
		settings: settings,
		logger:   zap.NewNop(),
		newID:    model.NewRequestID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the vault the engine reads from.
func (e *Engine) Store() vault.Store {
	return e.store
}

// Settings returns the settings snapshot the engine was built with.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// withStore returns a copy of e reading from store.
func (e *Engine) withStore(store vault.Store) *Engine {
	c := *e
	c.store = store
	c.parser = flowconfig.NewParser(store)
	return &c
}

// Seed returns the base payload and configuration of a new chain.
func (e *Engine) Seed() (model.Payload, model.FlowConfig) {
	p := model.Payload{
		Messages: []model.Message{{
			User: &model.User{AdditionalContext: map[string]string{}},
		}},
		Options:    e.settings.PayloadOptions(),
		Provider:   e.settings.PayloadProvider(),
		LLMOptions: e.settings.LLMOptions(),
		RequestID:  e.newID(),
	}
	return p, model.BaseFlowConfig()
}

// Compose folds layers, in order, into one payload.
//
// Duplicate identifiers are dropped keeping the first occurrence. The last
// layer provides the input (selection wins over its body when not empty);
// every earlier layer contributes its body to the user prompt. A layer that
// cannot be read or parsed is logged and skipped. An invalid exclusion
// pattern aborts the composition.
func (e *Engine) Compose(ctx context.Context, layers []string, selection string) (model.PayloadConfig, error) {
	acc, accCfg := e.Seed()
	ids := unique(layers)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return model.PayloadConfig{}, err
		}

		isLast := i == len(ids)-1
		next, cfg, err := e.composeLayer(ctx, id, isLast, selection, acc, accCfg)
		if err != nil {
			var patternErr *ExclusionPatternError
			if errors.As(err, &patternErr) {
				return model.PayloadConfig{}, err
			}
			e.logger.Warn("skipping flow layer", zap.String("layer", id), zap.Error(err))
			continue
		}
		acc, accCfg = next, cfg
	}

	return model.PayloadConfig{Payload: acc, Config: accCfg}, nil
}

func (e *Engine) composeLayer(ctx context.Context, id string, isLast bool, selection string,
	acc model.Payload, accCfg model.FlowConfig) (model.Payload, model.FlowConfig, error) {
	layer, err := e.parser.Parse(ctx, id)
	if err != nil {
		return model.Payload{}, model.FlowConfig{}, err
	}
	cfg := layer.Config.InheritFrom(accCfg)

	exclusions, err := compileExclusions(id, cfg.ExclusionPatterns)
	if err != nil {
		return model.Payload{}, model.FlowConfig{}, err
	}

	body := strings.TrimSpace(layer.Body)
	additional := make(map[string]string, len(cfg.AdditionalContext))
	for k, v := range cfg.AdditionalContext {
		additional[k] = v
	}
	links := e.expander(exclusions)
	if model.Enabled(cfg.ResolveForwardLinks) {
		links.ForwardLinks(ctx, id, additional, map[string]bool{id: true})
	}
	if model.Enabled(cfg.ResolveBacklinks) {
		links.Backlinks(ctx, id, additional)
	}
	if model.Enabled(cfg.ExpandURLs) {
		e.collectURLs(ctx, body, additional)
	}

	user := &model.User{AdditionalContext: additional}
	if isLast {
		input := body
		if selection != "" {
			input = selection
		}
		user.Input = model.String(input)
		user.UserPrompt = cfg.UserPrompt
	} else {
		user.UserPrompt = model.String(payload.JoinStrings(model.Deref(cfg.UserPrompt), body))
	}

	provider := acc.Provider
	if m := model.Deref(cfg.Model); m != "" {
		provider = m
	}

	candidate := model.Payload{
		Messages:   []model.Message{{User: user, System: cfg.SystemInstructions}},
		Options:    acc.Options,
		Provider:   provider,
		Model:      cfg.Model,
		LLMOptions: acc.LLMOptions.Override(cfg.LLMOptions),
		RequestID:  acc.RequestID,
	}

	merged, err := payload.Merge(&acc, &candidate)
	if err != nil {
		return model.Payload{}, model.FlowConfig{}, err
	}

	e.logger.Debug("composed flow layer",
		zap.String("layer", id),
		zap.Bool("last", isLast),
		zap.Int("context_entries", len(additional)))
	return merged, cfg, nil
}

// expander returns the link expander for one layer.
func (e *Engine) expander(exclusions []*regexp.Regexp) vault.Expander {
	return vault.Expander{
		Store:      e.store,
		MaxDepth:   e.settings.Flow.MaxLinkDepth,
		Exclusions: exclusions,
		Logger:     e.logger,
	}
}

func (e *Engine) collectURLs(ctx context.Context, body string, out map[string]string) {
	if e.fetcher == nil {
		return
	}
	for _, u := range fetch.ExtractURLs(body) {
		text, ok, err := e.fetcher.Fetch(ctx, u)
		if err != nil {
			e.logger.Warn("failed to fetch url", zap.String("url", u), zap.Error(err))
			continue
		}
		if ok && text != "" {
			out[model.URLID(u).String()] = text
		}
	}
}

func compileExclusions(layer string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &ExclusionPatternError{Layer: layer, Pattern: p, Err: err}
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Verify fetch.Fetcher implements URLFetcher
var _ URLFetcher = (*fetch.Fetcher)(nil)
