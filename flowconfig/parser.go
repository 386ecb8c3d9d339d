// Package flowconfig parses flow layers: the front-matter of a note into a
// FlowConfig, and its body with placeholders expanded.
//
// Information Hiding:
// - Front-matter key spellings and value coercion hidden
// - Placeholder expansion encapsulated
// - Flow discovery under the flow root hidden
package flowconfig

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/vault"
)

const (
	// Root is the vault folder holding flow templates.
	Root = "CloudAtlas/"

	// FlowsPlaceholder is replaced in layer bodies by the list of flows.
	FlowsPlaceholder = "{{flows}}"

	flowSuffix     = ".flow.md"
	flowDataSuffix = ".flowdata.md"

	linkPrefix = "link_"
	urlPrefix  = "url_"
)

// TemplatePath returns the template identifier of flow.
func TemplatePath(flow string) string {
	return Root + flow + flowSuffix
}

// DataPath returns the data-layer identifier of flow.
func DataPath(flow string) string {
	return Root + flow + flowDataSuffix
}

// Layer is one parsed flow layer.
type Layer struct {
	ID     string
	Config model.FlowConfig
	// Body is the text after the front-matter, placeholders expanded.
	Body string
}

// Parser reads flow layers from a vault.
type Parser struct {
	store vault.Store
}

// NewParser creates a parser reading from store.
func NewParser(store vault.Store) *Parser {
	return &Parser{store: store}
}

// Parse reads id and returns its configuration and body.
// Keys absent from the front-matter stay unset; only ExclusionPatterns and
// AdditionalContext are initialised to empty values.
func (p *Parser) Parse(ctx context.Context, id string) (Layer, error) {
	text, err := p.store.Read(ctx, id)
	if err != nil {
		return Layer{}, err
	}
	fields, offset, err := vault.SplitFrontMatter(text)
	if err != nil {
		return Layer{}, fmt.Errorf("parse %s: %w", id, err)
	}

	cfg, err := FromFields(fields)
	if err != nil {
		return Layer{}, fmt.Errorf("parse %s: %w", id, err)
	}
	cfg.FrontMatterOffset = offset

	body := text[offset:]
	if strings.Contains(body, FlowsPlaceholder) {
		flows, err := ListFlows(ctx, p.store)
		if err != nil {
			return Layer{}, fmt.Errorf("expand flows placeholder: %w", err)
		}
		body = strings.ReplaceAll(body, FlowsPlaceholder, formatFlowList(flows))
	}

	return Layer{ID: id, Config: cfg, Body: body}, nil
}

// FromFields converts decoded front-matter into a FlowConfig. Keys are
// visited in sorted order; when both spellings of the user prompt are set,
// userPrompt wins.
func FromFields(fields map[string]any) (model.FlowConfig, error) {
	cfg := model.FlowConfig{
		ExclusionPatterns: []string{},
		AdditionalContext: map[string]string{},
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := fields[key]
		var err error
		switch key {
		case "userPrompt":
			cfg.UserPrompt = optString(raw)
		case "user_prompt":
			if _, ok := fields["userPrompt"]; !ok {
				cfg.UserPrompt = optString(raw)
			}
		case "system_instructions":
			cfg.SystemInstructions = optString(raw)
		case "mode":
			cfg.Mode = optString(raw)
		case "model":
			cfg.Model = optString(raw)
		case "resolveBacklinks":
			cfg.ResolveBacklinks, err = optBool(key, raw)
		case "resolveForwardLinks":
			cfg.ResolveForwardLinks, err = optBool(key, raw)
		case "expandUrls":
			cfg.ExpandURLs, err = optBool(key, raw)
		case "can_delegate":
			cfg.CanDelegate, err = optBool(key, raw)
		case "exclusionPattern", "exclusionPatterns":
			cfg.ExclusionPatterns = append(cfg.ExclusionPatterns, stringList(raw)...)
		case "temperature":
			cfg.LLMOptions.Temperature, err = optFloat(key, raw)
		case "max_tokens":
			cfg.LLMOptions.MaxTokens, err = optInt(key, raw)
		default:
			if label, ok := contextLabel(key); ok {
				if v := strings.TrimSpace(fmt.Sprint(raw)); raw != nil && v != "" {
					cfg.AdditionalContext[label] = v
				}
			}
		}
		if err != nil {
			return model.FlowConfig{}, err
		}
	}
	return cfg, nil
}

// ListFlows returns the sorted names of the flow templates in store.
func ListFlows(ctx context.Context, store vault.Store) ([]string, error) {
	ids, err := store.List(ctx, Root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, id := range ids {
		if name, ok := FlowName(id); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// FlowName returns the flow named by a template identifier
// (CloudAtlas/{flow}.flow.md). Nested folders are not flows.
func FlowName(id string) (string, bool) {
	parts := strings.Split(id, "/")
	if len(parts) != 2 || parts[0]+"/" != Root || !strings.HasSuffix(parts[1], flowSuffix) {
		return "", false
	}
	name := strings.Split(parts[1], flowSuffix)[0]
	return name, name != ""
}

// RunFlowName recovers the flow of a saved run note named
// <name>.<flow>.flowrun.md. The flow is the second dot-separated segment
// of the file name.
func RunFlowName(id string) (string, bool) {
	base := path.Base(id)
	if !strings.HasSuffix(base, ".flowrun.md") {
		return "", false
	}
	segments := strings.Split(base, ".")
	if len(segments) < 4 || segments[1] == "" {
		return "", false
	}
	return segments[1], true
}

func formatFlowList(flows []string) string {
	lines := make([]string, len(flows))
	for i, f := range flows {
		lines[i] = "- " + f
	}
	return strings.Join(lines, "\n")
}

func contextLabel(key string) (string, bool) {
	for _, prefix := range []string{linkPrefix, urlPrefix} {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return strings.TrimPrefix(key, prefix), true
		}
	}
	return "", false
}

func optString(raw any) *string {
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		s = fmt.Sprint(raw)
	}
	return &s
}

func optBool(key string, raw any) (*bool, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return &v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not a boolean", key, v)
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("invalid %s: %v is not a boolean", key, raw)
	}
}

func optFloat(key string, raw any) (*float64, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int:
		f := float64(v)
		return &f, nil
	case float64:
		return &v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("invalid %s: %v is not a number", key, raw)
	}
}

func optInt(key string, raw any) (*int, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int:
		return &v, nil
	case float64:
		n := int(v)
		return &n, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("invalid %s: %v is not a number", key, raw)
	}
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := fmt.Sprint(item); item != nil && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
