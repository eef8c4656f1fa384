package interpreter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/neurorouter"
	"google.golang.org/genai"
)

// GeminiConfig selects the Gemini model.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int32
}

// Gemini calls the Gemini API through the genai client.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGemini creates the genai client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

// Generate sends the prompt with temperature 0.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(UserPrompt(req), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(req.Dialect), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return "", fmt.Errorf("gemini generate: %s: %w", apiErr.Message, neurorouter.ErrRateLimited)
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return ExtractSQL(text), nil
}
