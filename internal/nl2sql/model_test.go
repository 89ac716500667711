package nl2sql

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

func TestModelTranslatorExtractsSQL(t *testing.T) {
	completer := &fakeCompleter{completion: Completion{
		Text:     "Here you go:\n```sql\nSELECT COUNT(*) FROM Employee;\n```",
		Provider: "fake",
		Model:    "fake-1",
	}}
	translator, err := NewModelTranslator(staticFormatter{}, completer)
	if err != nil {
		t.Fatalf("NewModelTranslator() error = %v", err)
	}

	got, err := translator.Translate(context.Background(), Request{Question: "how many employees?", Schema: "table: Employee"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.SQL != "SELECT COUNT(*) FROM Employee;" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if completer.prompts[0] != "table: Employee|how many employees?" {
		t.Fatalf("prompt = %q", completer.prompts[0])
	}
	if got.Provider != "fake" || got.Model != "fake-1" {
		t.Fatalf("Result = %+v", got)
	}
}

func TestModelTranslatorFailsWithoutSQL(t *testing.T) {
	completer := &fakeCompleter{completion: Completion{Text: "I don't know.", Provider: "fake"}}
	translator, err := NewModelTranslator(staticFormatter{}, completer)
	if err != nil {
		t.Fatalf("NewModelTranslator() error = %v", err)
	}

	got, err := translator.Translate(context.Background(), Request{Question: "q", Schema: "s"})
	if !errors.Is(err, ErrNoSQL) {
		t.Fatalf("Translate() error = %v, want ErrNoSQL", err)
	}
	if got.Raw != "I don't know." || got.SQL != "" {
		t.Fatalf("Result = %+v", got)
	}
}

func TestModelTranslatorPropagatesCompleterError(t *testing.T) {
	boom := errors.New("network down")
	translator, err := NewModelTranslator(staticFormatter{}, &fakeCompleter{err: boom})
	if err != nil {
		t.Fatalf("NewModelTranslator() error = %v", err)
	}
	if _, err := translator.Translate(context.Background(), Request{Question: "q"}); !errors.Is(err, boom) {
		t.Fatalf("Translate() error = %v", err)
	}
}

func TestModelTranslatorRequiresQuestion(t *testing.T) {
	translator, err := NewModelTranslator(staticFormatter{}, &fakeCompleter{})
	if err != nil {
		t.Fatalf("NewModelTranslator() error = %v", err)
	}
	if _, err := translator.Translate(context.Background(), Request{Question: "  "}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestLangChainCompleterUsesModel(t *testing.T) {
	llm := &fakeLLM{reply: "SELECT Name FROM Genre"}
	completer, err := NewLangChainCompleter(llm, "gemini", "gemini-2.0-flash", 0)
	if err != nil {
		t.Fatalf("NewLangChainCompleter() error = %v", err)
	}
	got, err := completer.Complete(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != "SELECT Name FROM Genre" || got.Provider != "gemini" {
		t.Fatalf("Complete() = %+v", got)
	}
	if llm.calls != 1 {
		t.Fatalf("calls = %d", llm.calls)
	}
}

type staticFormatter struct{}

func (staticFormatter) Format(schemaText, question string) (string, error) {
	return schemaText + "|" + question, nil
}

type fakeCompleter struct {
	prompts    []string
	completion Completion
	err        error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (Completion, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return Completion{}, f.err
	}
	return f.completion, nil
}

type fakeLLM struct {
	reply string
	calls int
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}
