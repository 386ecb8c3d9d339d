// Tests for LLM providers: error messages must not leak API keys, and
// messages must reach each API in the expected shape.
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TestOpenAIErrorNoAPIKeyLeak verifies OpenAI errors don't contain API keys
func TestOpenAIErrorNoAPIKeyLeak(t *testing.T) {
	// Use intentionally invalid API key
	testKey := "sk-test-invalid-key-12345xyz"
	provider := NewOpenAIProvider(testKey, "gpt-4o", 100, 0.7)

	// Force error with invalid key
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	// Should return an error
	if err == nil {
		t.Skip("Expected error with invalid API key, but got success - skipping leak test")
	}

	// Verify error doesn't contain the API key
	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("OpenAI error message leaked API key: %v", errStr)
	}

	// Should not contain common auth header patterns
	if strings.Contains(errStr, "Authorization:") {
		t.Errorf("OpenAI error exposed Authorization header: %v", errStr)
	}
}

// TestAnthropicErrorNoAPIKeyLeak verifies Anthropic errors don't contain API keys
func TestAnthropicErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-ant-REDACTED"
	provider := NewAnthropicProvider(testKey, "claude-sonnet-4-20250514", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	if err == nil {
		t.Skip("Expected error with invalid API key, but got success - skipping leak test")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("Anthropic error message leaked API key: %v", errStr)
	}

	if strings.Contains(errStr, "x-api-key:") || strings.Contains(errStr, "X-API-Key:") {
		t.Errorf("Anthropic error exposed API key header: %v", errStr)
	}
}

// TestDeepSeekErrorNoAPIKeyLeak verifies DeepSeek errors don't contain API keys
func TestDeepSeekErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-test-invalid-key-12345xyz"
	provider := NewDeepSeekProvider(testKey, "deepseek-chat", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	if err == nil {
		t.Skip("Expected error with invalid API key, but got success - skipping leak test")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("DeepSeek error message leaked API key: %v", errStr)
	}

	if strings.Contains(errStr, "Authorization:") {
		t.Errorf("DeepSeek error exposed Authorization header: %v", errStr)
	}
}

// TestGeminiErrorNoAPIKeyLeak verifies Gemini errors don't contain API keys
func TestGeminiErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "test-invalid-key-12345xyz"
	provider := NewGeminiProvider(testKey, "gemini-2.5-flash", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	if err == nil {
		t.Skip("Expected error with invalid API key, but got success - skipping leak test")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("Gemini error message leaked API key: %v", errStr)
	}

	// Gemini uses x-goog-api-key header
	if strings.Contains(errStr, "x-goog-api-key:") {
		t.Errorf("Gemini error exposed API key header: %v", errStr)
	}
}

// TestGeminiInitErrorPreserved verifies Gemini returns initialization errors
func TestGeminiInitErrorPreserved(t *testing.T) {
	// Use invalid key that should fail during client initialization
	provider := NewGeminiProvider("", "gemini-2.5-flash", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	// Should return an error
	if err == nil {
		t.Error("Expected initialization error to be returned, got nil")
		return
	}

	// Error should indicate initialization failure
	errStr := err.Error()
	if !strings.Contains(errStr, "failed to initialize") {
		t.Errorf("Expected initialization error, got: %v", errStr)
	}
}

// TestAzureErrorNoAPIKeyLeak verifies Azure errors don't contain API keys
func TestAzureErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "azure-test-invalid-key-12345xyz"
	provider := NewAzureProvider(testKey, "https://invalid.openai.azure.com", "gpt-4o", "", 100, 0.7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: "test"},
	})

	if err == nil {
		t.Skip("Expected error with invalid API key, but got success - skipping leak test")
	}

	errStr := err.Error()
	if strings.Contains(errStr, testKey) {
		t.Errorf("Azure error message leaked API key: %v", errStr)
	}
}

// TestOpenAICompatibleRequest verifies the request body sent to an
// OpenAI-compatible endpoint and the parsed response.
func TestOpenAICompatibleRequest(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	config := openai.DefaultConfig("key")
	config.BaseURL = srv.URL
	provider := newOpenAIProviderWithConfig("openai", config, "gpt-4o", 50, 0.2)

	resp, err := provider.Chat(context.Background(), []ChatMessage{
		SystemMessage("be terse"),
		UserMessage("hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("expected 'hi there', got %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 50 {
		t.Errorf("unexpected request: model=%q max_tokens=%d", got.Model, got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem || got.Messages[1].Content != "hello" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestConvertToAnthropicMessagesFoldsTurns(t *testing.T) {
	messages, system := convertToAnthropicMessages([]ChatMessage{
		SystemMessage("first"),
		UserMessage("a"),
		UserMessage("b"),
		AssistantMessage("c"),
		SystemMessage("second"),
		UserMessage("d"),
	})

	if system != "first\n\nsecond" {
		t.Errorf("expected joined system prompt, got %q", system)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 alternating turns, got %d", len(messages))
	}
	if len(messages[0].Content) != 2 {
		t.Errorf("expected consecutive user turns folded into 2 blocks, got %d", len(messages[0].Content))
	}
}

func TestConvertToGeminiMessages(t *testing.T) {
	contents, system := convertToGeminiMessages([]ChatMessage{
		SystemMessage("sys"),
		UserMessage("q"),
		AssistantMessage("a"),
	})

	if system != "sys" {
		t.Errorf("expected system 'sys', got %q", system)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("expected assistant mapped to model role, got %q", contents[1].Role)
	}
}

func TestProviderBuilder(t *testing.T) {
	provider, err := ProviderOpenAI.Model("gpt-4o-mini").MaxTokens(10).Temperature(0).APIKey("key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "openai" || provider.Model() != "gpt-4o-mini" {
		t.Errorf("unexpected provider %s/%s", provider.Name(), provider.Model())
	}

	if _, err := ProviderAzure.Model("deployment").APIKey("key"); err == nil {
		t.Error("expected error for Azure without endpoint")
	}

	azure, err := ProviderAzure.Model("deployment").Endpoint("https://x.openai.azure.com").APIKey("key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if azure.Name() != "azureai" || azure.Model() != "deployment" {
		t.Errorf("unexpected provider %s/%s", azure.Name(), azure.Model())
	}
}

func TestParseProviderType(t *testing.T) {
	cases := map[string]ProviderType{
		"openai":   ProviderOpenAI,
		"Claude":   ProviderAnthropic,
		"deepseek": ProviderDeepSeek,
		"vertexai": ProviderGemini,
		"azureai":  ProviderAzure,
	}
	for in, want := range cases {
		got, err := ParseProviderType(in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", in, want, got)
		}
	}
	if _, err := ParseProviderType("unknown"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
