package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/internal/logging"
	"github.com/richinex/cloudatlas/llm"
	"github.com/richinex/cloudatlas/model"
)

// ProviderFactory builds a provider for one request.
type ProviderFactory func(modelID string, opts model.LLMOptions) (llm.Provider, error)

// Direct calls an LLM provider SDK without the remote service.
type Direct struct {
	factory      ProviderFactory
	defaultModel string
	logger       *zap.Logger
}

// NewDirect creates a direct backend for the provider named in settings.
func NewDirect(settings config.Settings, apiKey string, logger *zap.Logger) (*Direct, error) {
	providerType, err := llm.ParseProviderType(settings.Provider)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	defaultModel := settings.LLM.Model
	if providerType == llm.ProviderAzure && settings.Azure.Deployment != "" {
		defaultModel = settings.Azure.Deployment
	}

	factory := func(modelID string, opts model.LLMOptions) (llm.Provider, error) {
		b := llm.NewProviderBuilder(providerType).Model(modelID)
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			b.MaxTokens(uint32(*opts.MaxTokens))
		}
		if opts.Temperature != nil {
			b.Temperature(float32(*opts.Temperature))
		}
		if providerType == llm.ProviderAzure {
			b.Endpoint(settings.Azure.Endpoint).APIVersion(settings.Azure.APIVersion)
		}
		return b.APIKey(apiKey)
	}

	return NewDirectWithFactory(factory, defaultModel, logger), nil
}

// NewDirectWithFactory creates a direct backend with a custom provider factory.
func NewDirectWithFactory(factory ProviderFactory, defaultModel string, logger *zap.Logger) *Direct {
	return &Direct{
		factory:      factory,
		defaultModel: defaultModel,
		logger:       logging.OrNop(logger),
	}
}

// Dispatch flattens p into provider messages and sends them.
// The payload model overrides the configured default.
func (d *Direct) Dispatch(ctx context.Context, p model.Payload) (string, error) {
	messages := ToProviderMessages(p)
	if len(messages) == 0 {
		return "", errors.New("payload has no content to send")
	}

	modelID := model.Deref(p.Model)
	if modelID == "" {
		modelID = d.defaultModel
	}

	provider, err := d.factory(modelID, p.LLMOptions)
	if err != nil {
		return "", fmt.Errorf("failed to create provider: %w", err)
	}

	d.logger.Debug("calling provider",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.String("request_id", p.RequestID),
		zap.Int("messages", len(messages)))

	resp, err := provider.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp.Usage != nil {
		d.logger.Debug("provider usage",
			zap.String("request_id", p.RequestID),
			zap.Uint32("total_tokens", resp.Usage.TotalTokens))
	}
	return resp.Content, nil
}

// ToProviderMessages flattens payload messages into provider turns.
// Per message the order is fixed: system, user prompt, one entry per
// additional context item (sorted by key), input, then assistant.
// Empty fields produce no turn.
func ToProviderMessages(p model.Payload) []llm.ChatMessage {
	var out []llm.ChatMessage
	for _, m := range p.Messages {
		if s := model.Deref(m.System); s != "" {
			out = append(out, llm.SystemMessage(s))
		}
		if m.User != nil {
			if up := model.Deref(m.User.UserPrompt); up != "" {
				out = append(out, llm.UserMessage(up))
			}
			keys := make([]string, 0, len(m.User.AdditionalContext))
			for k := range m.User.AdditionalContext {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, llm.UserMessage(
					fmt.Sprintf("additional_context -%s: %s\n", k, m.User.AdditionalContext[k])))
			}
			if in := model.Deref(m.User.Input); in != "" {
				out = append(out, llm.UserMessage(in))
			}
		}
		if a := model.Deref(m.Assistant); a != "" {
			out = append(out, llm.AssistantMessage(a))
		}
	}
	return out
}
