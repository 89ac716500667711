package nl2sql

import (
	"context"
	"fmt"
	"strings"
)

// ModelTranslator formats the prompt, asks the remote model and extracts the
// SQL from its reply. It keeps no state between questions.
type ModelTranslator struct {
	formatter PromptFormatter
	completer Completer
}

func NewModelTranslator(formatter PromptFormatter, completer Completer) (*ModelTranslator, error) {
	if formatter == nil {
		return nil, fmt.Errorf("prompt formatter is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	return &ModelTranslator{formatter: formatter, completer: completer}, nil
}

// Translate returns ErrNoSQL (wrapped) when the reply has no statement; the
// returned Result still carries the prompt and raw reply in that case.
func (t *ModelTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	prompt, err := t.formatter.Format(req.Schema, req.Question)
	if err != nil {
		return Result{}, err
	}

	completion, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		return Result{Prompt: prompt}, err
	}

	result := Result{
		Prompt:   prompt,
		Raw:      completion.Text,
		Provider: completion.Provider,
		Model:    completion.Model,
	}
	sql, err := ExtractSQL(completion.Text)
	if err != nil {
		return result, fmt.Errorf("extract sql from %s response: %w", completion.Provider, err)
	}
	result.SQL = sql
	return result, nil
}
