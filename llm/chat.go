package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// chatProvider speaks the chat-completions dialect shared by ollama,
// lmstudio, openrouter, groq, xai, gemini and custom endpoints.
type chatProvider struct {
	base client
}

type chatCompletionRequest struct {
	Model           string          `json:"model"`
	Messages        []Message       `json:"messages"`
	Temperature     float64         `json:"temperature,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	ReasoningEffort Effort          `json:"reasoning_effort,omitempty"`
	ResponseFormat  *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			// Either a string or a list of typed parts.
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *chatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := chatCompletionRequest{
		Model:           p.base.model(req),
		Messages:        req.Messages,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
	}
	if p.base.cfg.Reasoning {
		body.ReasoningEffort = req.Effort
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	respBody, err := p.base.doPost(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	segs, err := contentSegments(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding chat content: %w", err)
	}
	return &ChatResponse{
		Segments:         segs,
		Model:            resp.Model,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// contentSegments maps a chat-completions content field onto segments.
// Parts of type "text" count as output text.
func contentSegments(raw json.RawMessage) ([]Segment, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []Segment{{Type: "output_text", Text: s}}, nil
	}
	var parts []Segment
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	for i := range parts {
		if parts[i].Type == "text" {
			parts[i].Type = "output_text"
		}
	}
	return parts, nil
}
