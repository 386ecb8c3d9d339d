// Package config provides application settings loaded from environment
// variables and an optional YAML settings file.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup
//
// Load() additionally overlays a YAML file on top of the environment.
// Settings are plain values: components receive a copy at construction.

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/cloudatlas/model"
)

// Dispatch backends. The remote service speaks two protocol versions;
// every other provider is called directly.
const (
	ProviderCloudAtlas   = "cloudatlas"
	ProviderCloudAtlasV1 = "cloudatlas-v1"
)

// Canvas inclusion scopes for UserPrompt and System nodes.
const (
	CanvasScopeGraph     = "graph"
	CanvasScopeConnected = "connected"
)

const (
	// DefaultEndpoint is the remote service base URL.
	DefaultEndpoint = "https://api.cloud-atlas.ai"
	// DevelopmentEndpoint replaces the endpoint in development mode.
	DevelopmentEndpoint = "http://localhost:8787"
)

// Settings holds all application configuration.
type Settings struct {
	Provider     string            `yaml:"provider"`
	LLM          LLMConfig         `yaml:"llm"`
	Remote       RemoteConfig      `yaml:"remote"`
	Azure        AzureConfig       `yaml:"azure"`
	Options      OptionsConfig     `yaml:"options"`
	Canvas       CanvasConfig      `yaml:"canvas"`
	Flow         FlowConfig        `yaml:"flow"`
	Interactive  InteractiveConfig `yaml:"interactive"`
	VaultRoot    string            `yaml:"vaultRoot"`
	DatabasePath string            `yaml:"databasePath"`
	LogLevel     string            `yaml:"logLevel"`
}

// LLMConfig holds direct provider configuration and default sampling options.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   uint32  `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
}

// RemoteConfig holds the remote service configuration.
type RemoteConfig struct {
	APIKey           string `yaml:"apiKey"`
	Endpoint         string `yaml:"endpoint"`
	DevelopmentMode  bool   `yaml:"developmentMode"`
	TimeoutMins      int    `yaml:"timeoutMins"`
	PollIntervalSecs int    `yaml:"pollIntervalSecs"`
}

// AzureConfig holds Azure OpenAI configuration.
type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"apiVersion"`
}

// OptionsConfig holds the request options forwarded with every payload.
type OptionsConfig struct {
	GenerateEmbeddings bool     `yaml:"generateEmbeddings"`
	EntityRecognition  bool     `yaml:"entityRecognition"`
	Wikify             []string `yaml:"wikify"`
}

// CanvasConfig controls canvas resolution.
type CanvasConfig struct {
	ResolveLinks     bool   `yaml:"resolveLinks"`
	ResolveBacklinks bool   `yaml:"resolveBacklinks"`
	Scope            string `yaml:"scope"`
}

// FlowConfig controls flow runs.
type FlowConfig struct {
	CreateNewFile      bool   `yaml:"createNewFile"`
	OutputFileTemplate string `yaml:"outputFileTemplate"`
	MaxLinkDepth       int    `yaml:"maxLinkDepth"`
}

// InteractiveConfig controls context resolution for interactive sessions.
type InteractiveConfig struct {
	ResolveLinks     bool `yaml:"resolveLinks"`
	ResolveBacklinks bool `yaml:"resolveBacklinks"`
	ExpandURLs       bool `yaml:"expandUrls"`
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	ProviderCloudAtlas:   {"", "", "CLOUDATLAS_API_KEY"},
	ProviderCloudAtlasV1: {"", "", "CLOUDATLAS_API_KEY"},
	"openai":             {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"azureai":            {"AZURE_OPENAI_DEPLOYMENT", "gpt-4o", "AZURE_OPENAI_API_KEY"},
	"anthropic":          {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":           {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":             {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude":   "anthropic",
	"google":   "gemini",
	"vertexai": "gemini",
	"gpt":      "openai",
	"azure":    "azureai",
}

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider selects the remote service.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = os.Getenv("CLOUDATLAS_PROVIDER")
	}
	if provider == "" {
		provider = ProviderCloudAtlas
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	timeoutMins, err := getEnvInt("CLOUDATLAS_TIMEOUT_MINS", 5)
	if err != nil {
		return Settings{}, err
	}

	maxLinkDepth, err := getEnvInt("CLOUDATLAS_MAX_LINK_DEPTH", 5)
	if err != nil {
		return Settings{}, err
	}

	devMode, err := getEnvBool("CLOUDATLAS_DEVELOPMENT_MODE", false)
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := ""
	if info.modelEnv != "" {
		model = os.Getenv(info.modelEnv)
	}
	if model == "" {
		model = info.defaultModel
	}

	endpoint := os.Getenv("CLOUDATLAS_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	s := Settings{
		Provider: provider,
		LLM: LLMConfig{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Remote: RemoteConfig{
			APIKey:           os.Getenv("CLOUDATLAS_API_KEY"),
			Endpoint:         endpoint,
			DevelopmentMode:  devMode,
			TimeoutMins:      timeoutMins,
			PollIntervalSecs: 5,
		},
		Azure: AzureConfig{
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
		},
		Canvas: CanvasConfig{
			Scope: CanvasScopeGraph,
		},
		Flow: FlowConfig{
			OutputFileTemplate: "{{name}}.{{flow}}.flowrun.md",
			MaxLinkDepth:       maxLinkDepth,
		},
		Interactive: InteractiveConfig{
			ResolveLinks: true,
		},
		VaultRoot:    os.Getenv("CLOUDATLAS_VAULT"),
		DatabasePath: os.Getenv("CLOUDATLAS_DB"),
		LogLevel:     "info",
	}
	if s.VaultRoot == "" {
		s.VaultRoot = "."
	}
	if s.DatabasePath == "" {
		s.DatabasePath = ".cloudatlas/cloudatlas.db"
	}
	return s, s.validate()
}

// Load creates settings from the environment and overlays the YAML file at
// path when path is not empty. Keys absent from the file keep their
// environment or default value.
func Load(provider, path string) (Settings, error) {
	s, err := New(provider)
	if err != nil {
		return Settings{}, err
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if provider != "" {
		s.Provider = provider
	}
	s.Provider = normalizeProvider(s.Provider)
	if _, err := getProviderInfo(s.Provider); err != nil {
		return Settings{}, err
	}
	return s, s.validate()
}

func (s Settings) validate() error {
	if s.Remote.TimeoutMins <= 0 {
		return fmt.Errorf("timeoutMins must be positive, got %d", s.Remote.TimeoutMins)
	}
	if s.Remote.PollIntervalSecs <= 0 {
		return fmt.Errorf("pollIntervalSecs must be positive, got %d", s.Remote.PollIntervalSecs)
	}
	if s.Flow.MaxLinkDepth < 0 {
		return fmt.Errorf("maxLinkDepth must not be negative, got %d", s.Flow.MaxLinkDepth)
	}
	switch s.Canvas.Scope {
	case CanvasScopeGraph, CanvasScopeConnected:
	default:
		return fmt.Errorf("unknown canvas scope: %q", s.Canvas.Scope)
	}
	return nil
}

// IsRemote reports whether requests go to the remote service.
func (s Settings) IsRemote() bool {
	return s.Provider == ProviderCloudAtlas || s.Provider == ProviderCloudAtlasV1
}

// Endpoint returns the remote service base URL, honouring development mode.
func (s Settings) Endpoint() string {
	if s.Remote.DevelopmentMode {
		return DevelopmentEndpoint
	}
	return strings.TrimSuffix(s.Remote.Endpoint, "/")
}

// Timeout returns the async poll timeout.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.Remote.TimeoutMins) * time.Minute
}

// PollInterval returns the async poll interval.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.Remote.PollIntervalSecs) * time.Second
}

// PayloadProvider returns the provider value stamped into new payloads.
func (s Settings) PayloadProvider() string {
	switch s.Provider {
	case ProviderCloudAtlas, ProviderCloudAtlasV1:
		return model.ProviderAuto
	case "gemini":
		return model.ProviderVertexAI
	default:
		return s.Provider
	}
}

// PayloadOptions returns the request options stamped into new payloads.
func (s Settings) PayloadOptions() model.Options {
	return model.Options{
		GenerateEmbeddings: s.Options.GenerateEmbeddings,
		EntityRecognition:  s.Options.EntityRecognition,
		Wikify:             append([]string{}, s.Options.Wikify...),
	}
}

// LLMOptions returns the default sampling options stamped into new payloads.
func (s Settings) LLMOptions() model.LLMOptions {
	temperature := s.LLM.Temperature
	maxTokens := int(s.LLM.MaxTokens)
	return model.LLMOptions{Temperature: &temperature, MaxTokens: &maxTokens}
}

// APIKey returns the key for the configured provider. The remote service
// key may come from the settings file; direct provider keys come from the
// environment.
func (s Settings) APIKey() (string, error) {
	if s.IsRemote() && s.Remote.APIKey != "" {
		return s.Remote.APIKey, nil
	}
	return APIKeyFor(s.Provider)
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// SupportedProviders returns the sorted canonical provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}
