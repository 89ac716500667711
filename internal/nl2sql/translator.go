package nl2sql

import "context"

type Request struct {
	Question string `json:"question"`
	Schema   string `json:"schema"`
}

type Result struct {
	SQL      string `json:"sql"`
	Prompt   string `json:"prompt,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// Completion is the raw text a hosted model returned for one prompt.
type Completion struct {
	Text     string
	Provider string
	Model    string
}

// Completer sends a single prompt to a remote model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

type PromptFormatter interface {
	Format(schemaText, question string) (string, error)
}
