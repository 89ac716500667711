package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// LangChainCompleter adapts any langchaingo model to Completer.
type LangChainCompleter struct {
	llm         llms.Model
	provider    string
	model       string
	temperature float64
}

func NewLangChainCompleter(llm llms.Model, provider, model string, temperature float64) (*LangChainCompleter, error) {
	if llm == nil {
		return nil, fmt.Errorf("language model is required")
	}
	return &LangChainCompleter{llm: llm, provider: provider, model: model, temperature: temperature}, nil
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

// NewGeminiCompleter wires Google's Gemini models through langchaingo.
func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig) (*LangChainCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return NewLangChainCompleter(llm, "gemini", model, cfg.Temperature)
}

func (c *LangChainCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return Completion{}, fmt.Errorf("generate %s completion: %w", c.provider, err)
	}
	return Completion{Text: text, Provider: c.provider, Model: c.model}, nil
}
