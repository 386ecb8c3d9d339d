package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/internal/logging"
	"github.com/richinex/cloudatlas/model"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 5 * time.Minute
	maxResponseBytes    = 8 << 20
)

// RemoteOption configures a remote backend.
type RemoteOption func(*remote)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *remote) { r.client = c }
}

// WithPollInterval sets the delay between response polls.
func WithPollInterval(d time.Duration) RemoteOption {
	return func(r *remote) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTimeout sets the total time to wait for a response.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RemoteOption {
	return func(r *remote) { r.logger = logging.OrNop(l) }
}

// remote holds the state shared by both protocol versions.
type remote struct {
	endpoint string
	apiKey   string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func newRemote(endpoint, apiKey string, opts []RemoteOption) remote {
	r := remote{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		interval: defaultPollInterval,
		timeout:  defaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// submit posts the payload to {endpoint}/run and returns the response body.
func (r *remote) submit(ctx context.Context, p model.Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", r.apiKey)

	r.logger.Debug("submitting payload",
		zap.String("request_id", p.RequestID),
		zap.String("version", p.Version))

	return r.do(req, "submit")
}

func (r *remote) do(req *http.Request, op string) ([]byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("remote service returned an error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Async is the V2 protocol: submit, then poll the response store by
// request id until a result appears or the timeout elapses.
type Async struct {
	remote
}

// NewAsync creates an async backend for endpoint.
func NewAsync(endpoint, apiKey string, opts ...RemoteOption) *Async {
	return &Async{remote: newRemote(endpoint, apiKey, opts)}
}

type storedResponse struct {
	Response string `json:"response"`
}

// Dispatch submits p and waits for its response.
func (a *Async) Dispatch(ctx context.Context, p model.Payload) (string, error) {
	if p.RequestID == "" {
		p.RequestID = model.NewRequestID()
	}
	p.Version = model.VersionV2
	if _, err := a.submit(ctx, p); err != nil {
		return "", err
	}

	retries := int(a.timeout / a.interval)
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.interval):
		}

		results, err := a.poll(ctx, p.RequestID)
		if err != nil {
			return "", err
		}
		if len(results) > 0 {
			a.logger.Debug("response received",
				zap.String("request_id", p.RequestID),
				zap.Int("attempt", attempt))
			return results[0].Response, nil
		}
	}
	return "", fmt.Errorf("%w: request %s after %s", ErrPollTimeout, p.RequestID, a.timeout)
}

func (a *Async) poll(ctx context.Context, requestID string) ([]storedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.endpoint+"/responses/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)

	data, err := a.do(req, "poll")
	if err != nil {
		return nil, err
	}

	var results []storedResponse
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return results, nil
}

// Sync is the legacy V1 protocol: the response is the body of the submit call.
type Sync struct {
	remote
}

// NewSync creates a legacy sync backend for endpoint.
func NewSync(endpoint, apiKey string, opts ...RemoteOption) *Sync {
	return &Sync{remote: newRemote(endpoint, apiKey, opts)}
}

// Dispatch submits p and returns the body. A JSON string body is decoded.
func (s *Sync) Dispatch(ctx context.Context, p model.Payload) (string, error) {
	p.Version = model.VersionV1
	data, err := s.submit(ctx, p)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text, nil
	}
	return string(data), nil
}
