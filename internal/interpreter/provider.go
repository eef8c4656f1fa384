package interpreter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider names accepted in config and flags.
const (
	ProviderGroq    = "groq"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
)

const (
	DefaultGroqURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultOllamaURL = "http://localhost:11434/v1/chat/completions"
	DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider  string        `yaml:"provider"`
	APIURL    string        `yaml:"api_url"`
	APIKey    string        `yaml:"-"`
	Model     string        `yaml:"model"`
	Region    string        `yaml:"region"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// KeyEnv is the environment variable holding the API key for a provider.
// Providers that need no key (ollama) or use their own chain (bedrock)
// return "".
func KeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "", ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	}
	return ""
}

// WithDefaults fills the endpoint, model and key for the provider.
func (c Config) WithDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderGroq
	}
	switch c.Provider {
	case ProviderGroq:
		c.APIURL = orDefault(c.APIURL, DefaultGroqURL)
		c.Model = orDefault(c.Model, "llama-3.1-8b-instant")
	case ProviderOllama:
		c.APIURL = orDefault(c.APIURL, DefaultOllamaURL)
		c.Model = orDefault(c.Model, "qwen2.5-coder:7b")
	case ProviderOpenAI:
		c.APIURL = orDefault(c.APIURL, DefaultOpenAIURL)
		c.Model = orDefault(c.Model, "gpt-4o-mini")
	case ProviderBedrock:
		c.Model = orDefault(c.Model, "meta.llama3-8b-instruct-v1:0")
		c.Region = orDefault(c.Region, os.Getenv("AWS_REGION"))
	case ProviderGemini:
		c.Model = orDefault(c.Model, "gemini-2.0-flash")
	}
	if c.APIKey == "" {
		if env := KeyEnv(c.Provider); env != "" {
			c.APIKey = os.Getenv(env)
		}
	}
	return c
}

// New builds the interpreter for cfg.
func New(ctx context.Context, cfg Config) (Interpreter, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Provider {
	case ProviderGroq, ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s provider requires %s", cfg.Provider, KeyEnv(cfg.Provider))
		}
		fallthrough
	case ProviderOllama:
		return NewOpenAI(OpenAIConfig{
			APIURL:    cfg.APIURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}), nil
	case ProviderBedrock:
		return NewBedrock(ctx, BedrockConfig{
			Region:    cfg.Region,
			Model:     cfg.Model,
			MaxTokens: int32(cfg.MaxTokens),
		})
	case ProviderGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: int32(cfg.MaxTokens),
		})
	}
	return nil, fmt.Errorf("unknown interpreter provider %q", cfg.Provider)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
