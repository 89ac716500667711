// Package prompt substitutes the schema description and the user's question
// into a fixed template.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// DefaultTemplate is the instruction sent with every question. Placeholders
// use f-string syntax: {schema}, {question} and {dialect}.
const DefaultTemplate = `You are a SQL assistant. Given a database schema and a natural language request,
write the correct {dialect} SQL query to answer it. Only use the given schema.
Return a single SQL statement.
Schema:
{schema}
Question: "{question}"

SQL:
`

const (
	varSchema   = "schema"
	varQuestion = "question"
	varDialect  = "dialect"
)

type Formatter struct {
	template prompts.PromptTemplate
	dialect  string
}

// New builds a formatter for the given template text. An empty template
// selects DefaultTemplate.
func New(template, dialect string) (*Formatter, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	for _, name := range []string{varSchema, varQuestion} {
		if !strings.Contains(template, "{"+name+"}") {
			return nil, fmt.Errorf("prompt template must reference {%s}", name)
		}
	}
	if strings.TrimSpace(dialect) == "" {
		dialect = "SQL"
	}
	return &Formatter{
		template: prompts.PromptTemplate{
			Template:       template,
			InputVariables: []string{varSchema, varQuestion, varDialect},
			TemplateFormat: prompts.TemplateFormatFString,
		},
		dialect: dialect,
	}, nil
}

// FromFile reads a template from disk.
func FromFile(path, dialect string) (*Formatter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template %q: %w", path, err)
	}
	return New(string(raw), dialect)
}

// Format is pure: identical inputs give byte-identical prompts.
func (f *Formatter) Format(schemaText, question string) (string, error) {
	out, err := f.template.Format(map[string]any{
		varSchema:   schemaText,
		varQuestion: question,
		varDialect:  f.dialect,
	})
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}
	return out, nil
}
