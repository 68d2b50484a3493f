package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// responsesProvider implements Provider for OpenAI's Responses API, which
// carries reasoning effort and returns a list of output items.
type responsesProvider struct {
	base client
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-5-mini"
	}
	return &responsesProvider{base: newClient(cfg, "/v1")}
}

type responsesRequest struct {
	Model           string         `json:"model"`
	Input           []Message      `json:"input"`
	Temperature     float64        `json:"temperature,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Reasoning       *reasoning     `json:"reasoning,omitempty"`
	Text            *responsesText `json:"text,omitempty"`
}

type reasoning struct {
	Effort Effort `json:"effort"`
}

type responsesText struct {
	Format responseFormat `json:"format"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type    string    `json:"type"`
		Content []Segment `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *responsesProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := responsesRequest{
		Model:           p.base.model(req),
		Input:           req.Messages,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.Effort != "" {
		body.Reasoning = &reasoning{Effort: req.Effort}
	}
	if req.ResponseFormat == "json_object" {
		body.Text = &responsesText{Format: responseFormat{Type: "json_object"}}
	}

	respBody, err := p.base.doPost(ctx, "/responses", body)
	if err != nil {
		return nil, err
	}
	var resp responsesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding responses output: %w", err)
	}

	out := &ChatResponse{
		Model:            resp.Model,
		FinishReason:     resp.Status,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	for _, item := range resp.Output {
		if item.Type != "message" {
			out.Segments = append(out.Segments, Segment{Type: item.Type})
			continue
		}
		out.Segments = append(out.Segments, item.Content...)
	}
	return out, nil
}
