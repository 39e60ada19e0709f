package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CompletionRequest is what a task sends to an LLM endpoint. Prompt is held
// in memory only for the duration of the call — nothing in this package
// persists it.
type CompletionRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// Usage mirrors the token accounting contract every LLM endpoint is
// expected to return, independent of provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse carries the completion text for a task's own,
// transient use (e.g. writing a RunArtifact file) plus the usage a task
// persists to an LLMCall row. Callers must never copy Text into a database
// field.
type CompletionResponse struct {
	Text  string
	Usage Usage
}

// LLMClient is the capability interface every task that needs model
// inference goes through. There is intentionally no method that accepts or
// returns anything resembling a stored transcript.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// HTTPLLMClient posts to a single local inference endpoint's /completions
// route, matching the contract of a locally hosted model server: a prompt
// and a token budget in, text plus a usage block out.
type HTTPLLMClient struct {
	Endpoint   string
	httpClient *http.Client
}

func NewHTTPLLMClient(endpoint string) *HTTPLLMClient {
	return &HTTPLLMClient{
		Endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type completionRequestBody struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponseBody struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *HTTPLLMClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = "mistral-7b"
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	body, err := json.Marshal(completionRequestBody{Prompt: req.Prompt, Model: model, MaxTokens: maxTokens})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshaling completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("calling llm endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CompletionResponse{}, fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed completionResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CompletionResponse{}, fmt.Errorf("decoding completion response: %w", err)
	}

	return CompletionResponse{
		Text: parsed.Text,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
