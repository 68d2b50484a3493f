package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoText is returned by Text when a response carries no text segment.
var ErrNoText = errors.New("llm: response has no text output")

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat request and returns the model's output.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Effort is a reasoning-effort hint. Backends without reasoning controls
// ignore it.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// ChatRequest is a chat request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Effort      Effort    `json:"effort,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build the two message kinds the pipeline sends.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Segment is one item of a model's output list.
type Segment struct {
	Type string `json:"type"` // "output_text", "reasoning", "refusal", ...
	Text string `json:"text,omitempty"`
}

// ChatResponse is the response from a chat request.
type ChatResponse struct {
	Segments         []Segment `json:"segments"`
	Model            string    `json:"model"`
	FinishReason     string    `json:"finish_reason"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
}

// Text returns the first text segment of resp.
func Text(resp *ChatResponse) (string, error) {
	if resp == nil {
		return "", ErrNoText
	}
	for _, s := range resp.Segments {
		if s.Type == "output_text" && s.Text != "" {
			return s.Text, nil
		}
	}
	return "", ErrNoText
}

// Config configures an LLM provider.
type Config struct {
	Provider   string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	// Reasoning forwards ChatRequest.Effort as reasoning_effort to
	// chat-completions backends. Many non-reasoning models reject the
	// field, so it is off unless the model is known to take it. The
	// openai provider always sends its effort.
	Reasoning bool `json:"reasoning" yaml:"reasoning"`
}

// vendor holds the defaults of an OpenAI-compatible backend.
type vendor struct {
	baseURL string
	prefix  string
	model   string
}

var vendors = map[string]vendor{
	"ollama":     {baseURL: "http://localhost:11434", prefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: ""},
	"custom":     {prefix: "/v1"},
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	v, ok := vendors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = v.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = v.model
	}
	return &chatProvider{base: newClient(cfg, v.prefix)}, nil
}

// NewOpenAICompat creates a provider for any chat-completions endpoint
// under BaseURL/v1.
func NewOpenAICompat(cfg Config) Provider {
	return &chatProvider{base: newClient(cfg, "/v1")}
}
