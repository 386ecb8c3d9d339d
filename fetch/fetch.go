// Package fetch expands URLs found in note bodies into text context.
//
// Information Hiding:
// - HTTP client configuration and timeouts hidden
// - Content-type filtering and HTML-to-text conversion encapsulated
// - Response caching hidden behind Fetch
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultCacheSize = 128
	maxBodyBytes     = 4 << 20
)

var (
	markdownURLRe = regexp.MustCompile(`\[[^\]]+\]\(([^)]+)\)`)
	bareURLRe     = regexp.MustCompile(`(?:^|\s)(https?://[^\s)]+)`)
)

// ExtractURLs returns the http(s) URLs referenced in body: markdown link
// targets first, then bare URLs. Duplicates keep their first position.
func ExtractURLs(body string) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, m := range markdownURLRe.FindAllStringSubmatch(body, -1) {
		if strings.HasPrefix(m[1], "http://") || strings.HasPrefix(m[1], "https://") {
			add(m[1])
		}
	}
	for _, m := range bareURLRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return urls
}

// Fetcher retrieves URL content as text.
type Fetcher struct {
	client *http.Client
	cache  *lru.Cache[string, string]
	logger *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger for skipped URLs.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) (*Fetcher, error) {
	cache, err := lru.New[string, string](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fetch cache: %w", err)
	}
	f := &Fetcher{
		client: &http.Client{Timeout: defaultTimeout},
		cache:  cache,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the text content of rawURL. ok is false when the URL was
// skipped: a non-2xx status or a non-text content type. err is reserved for
// transport failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, bool, error) {
	if text, hit := f.cache.Get(rawURL); hit {
		return text, true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("skipping url", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return "", false, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !isText(contentType) {
		f.logger.Debug("skipping non-text url", zap.String("url", rawURL), zap.String("content_type", contentType))
		return "", false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", false, fmt.Errorf("failed to read response body: %w", err)
	}

	text := string(body)
	if strings.Contains(contentType, "text/html") {
		text, err = htmlToText(text)
		if err != nil {
			return "", false, err
		}
	}

	f.cache.Add(rawURL, text)
	return text, true, nil
}

func isText(contentType string) bool {
	return strings.Contains(contentType, "text/") ||
		strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/xml") ||
		strings.Contains(contentType, "application/javascript")
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
