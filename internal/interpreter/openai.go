package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"
)

// OpenAIConfig holds parameters for an OpenAI-compatible chat endpoint
// (Groq, Ollama, OpenAI itself).
type OpenAIConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI calls a chat-completions endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns an interpreter for an OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Generate sends the prompt and extracts SQL from the first choice.
// HTTP 429 is reported as neurorouter.ErrRateLimited.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": SystemPrompt(req.Dialect)},
		{"role": "user", "content": UserPrompt(req)},
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model":       o.cfg.Model,
		"messages":    messages,
		"max_tokens":  o.cfg.MaxTokens,
		"temperature": 0,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("interpreter request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("interpreter HTTP %d: %w", resp.StatusCode, neurorouter.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("interpreter HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode interpreter response: %w", err)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return ExtractSQL(result.Choices[0].Message.Content), nil
}
