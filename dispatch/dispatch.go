// Package dispatch sends composed payloads to an LLM backend and returns
// the response text.
//
// Information Hiding:
// - Backend selection (direct provider, async remote, legacy sync remote) hidden behind Dispatcher
// - Wire protocol of the remote service encapsulated
// - Payload to provider message flattening encapsulated

package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/model"
)

// ErrPollTimeout is returned when the async backend produced no response
// within the configured timeout.
var ErrPollTimeout = errors.New("timed out waiting for response")

// StatusError reports a non-200 response from the remote service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// Dispatcher sends a payload and returns plain response text.
type Dispatcher interface {
	Dispatch(ctx context.Context, p model.Payload) (string, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, p model.Payload) (string, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, p model.Payload) (string, error) {
	return f(ctx, p)
}

// New picks the backend configured in settings.
func New(settings config.Settings, logger *zap.Logger) (Dispatcher, error) {
	apiKey, err := settings.APIKey()
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	switch settings.Provider {
	case config.ProviderCloudAtlas:
		return NewAsync(settings.Endpoint(), apiKey,
			WithPollInterval(settings.PollInterval()),
			WithTimeout(settings.Timeout()),
			WithLogger(logger),
		), nil
	case config.ProviderCloudAtlasV1:
		return NewSync(settings.Endpoint(), apiKey, WithLogger(logger)), nil
	default:
		return NewDirect(settings, apiKey, logger)
	}
}

// Verify backends implement Dispatcher
var (
	_ Dispatcher = (*Async)(nil)
	_ Dispatcher = (*Sync)(nil)
	_ Dispatcher = (*Direct)(nil)
	_ Dispatcher = DispatcherFunc(nil)
)
