// Package model provides domain types shared across packages.
//
// Payload is the request unit sent to the LLM backends. FlowConfig is the
// per-layer configuration derived from a flow note. Both are built fresh for
// each run and only combined through payload.Merge.
package model

import (
	"strings"

	"github.com/google/uuid"
)

// Provider values understood by the dispatch layer.
const (
	ProviderAuto       = "auto"
	ProviderOpenAI     = "openai"
	ProviderVertexAI   = "vertexai"
	ProviderAzureAI    = "azureai"
	ProviderCloudAtlas = "cloudatlas"
)

// Payload protocol versions.
const (
	// VersionV1 is the legacy synchronous protocol.
	VersionV1 = "V1"
	// VersionV2 is the asynchronous submit-then-poll protocol.
	VersionV2 = "V2"
)

// Payload is a single request to the LLM service.
// RequestID is set once when a composition chain starts and is never
// regenerated by later layers.
type Payload struct {
	Messages   []Message  `json:"messages"`
	Options    Options    `json:"options"`
	Provider   string     `json:"provider"`
	Model      *string    `json:"model"`
	LLMOptions LLMOptions `json:"llmOptions"`
	RequestID  string     `json:"requestId"`
	Version    string     `json:"version,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	User      *User   `json:"user"`
	System    *string `json:"system"`
	Assistant *string `json:"assistant"`
}

// User holds the user side of a turn.
// AdditionalContext keys are content identifiers; last writer wins on merge.
type User struct {
	UserPrompt        *string           `json:"user_prompt"`
	Input             *string           `json:"input"`
	AdditionalContext map[string]string `json:"additional_context"`
}

// Options are server-side processing switches passed through untouched.
type Options struct {
	GenerateEmbeddings bool     `json:"generate_embeddings"`
	EntityRecognition  bool     `json:"entity_recognition"`
	Wikify             []string `json:"wikify"`
}

// LLMOptions are sampling parameters. Nil fields are unset.
type LLMOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// IsZero reports whether no option is set.
func (o LLMOptions) IsZero() bool {
	return o.Temperature == nil && o.MaxTokens == nil
}

// Override returns o with every field that is set in other replaced.
func (o LLMOptions) Override(other LLMOptions) LLMOptions {
	if other.Temperature != nil {
		t := *other.Temperature
		o.Temperature = &t
	}
	if other.MaxTokens != nil {
		m := *other.MaxTokens
		o.MaxTokens = &m
	}
	return o
}

// PayloadConfig pairs a composed payload with the effective configuration
// of the last layer that contributed to it.
type PayloadConfig struct {
	Payload Payload
	Config  FlowConfig
}

// FlowResponse is the outcome of a dispatched flow.
type FlowResponse struct {
	Response string
	Config   FlowConfig
	Payload  Payload
}

// LastMessage returns the message currently being merged into.
// Returns the zero Message when the payload has no messages.
func (p Payload) LastMessage() Message {
	if len(p.Messages) == 0 {
		return Message{}
	}
	return p.Messages[len(p.Messages)-1]
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := p
	out.Messages = make([]Message, len(p.Messages))
	for i, m := range p.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Options.Wikify = append([]string(nil), p.Options.Wikify...)
	out.Model = cloneString(p.Model)
	out.LLMOptions = LLMOptions{}.Override(p.LLMOptions)
	return out
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := Message{
		System:    cloneString(m.System),
		Assistant: cloneString(m.Assistant),
	}
	if m.User != nil {
		u := m.User.Clone()
		out.User = &u
	}
	return out
}

// Clone returns a deep copy of the user turn.
func (u User) Clone() User {
	out := User{
		UserPrompt:        cloneString(u.UserPrompt),
		Input:             cloneString(u.Input),
		AdditionalContext: make(map[string]string, len(u.AdditionalContext)),
	}
	for k, v := range u.AdditionalContext {
		out.AdditionalContext[k] = v
	}
	return out
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// NewRequestID returns a fresh 10 character request identifier.
func NewRequestID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:10]
}
