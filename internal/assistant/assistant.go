// Package assistant runs one question through the pipeline: translate the
// question with the model, optionally check the statement, execute it.
package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlguard"
)

const (
	StageSchema    = "schema"
	StageTranslate = "translate"
	StageGuard     = "guard"
	StageExecute   = "execute"
)

var ErrTranslatorUnavailable = errors.New("no language model configured")

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf reports the stage of err, or "" when err did not come from a Service.
func StageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

type Deps struct {
	DB            *sql.DB
	Dialect       database.Dialect
	SchemaOptions schema.Options
	// Translator may be nil for callers that only execute SQL.
	Translator nl2sql.Translator
	// Engine defaults to a sqldb.Engine over DB.
	Engine   query.Engine
	ReadOnly bool
	RowLimit int
	Logger   *slog.Logger
}

type Answer struct {
	Question string       `json:"question"`
	SQL      string       `json:"sql"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	Result   query.Result `json:"-"`
}

type Service struct {
	schema     schema.Schema
	schemaText string
	translator nl2sql.Translator
	engine     query.Engine
	readOnly   bool
	rowLimit   int
	logger     *slog.Logger
}

// New loads the schema once; every later question reuses the same text.
func New(ctx context.Context, deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := deps.Engine
	if engine == nil {
		engine = sqldb.NewEngine(deps.DB)
	}

	loaded, err := schema.Load(ctx, deps.DB, deps.Dialect, deps.SchemaOptions)
	if err != nil {
		return nil, &StageError{Stage: StageSchema, Err: err}
	}
	logger.Debug("schema loaded", "dialect", string(deps.Dialect), "tables", len(loaded.Tables))

	return &Service{
		schema:     loaded,
		schemaText: loaded.Text(),
		translator: deps.Translator,
		engine:     engine,
		readOnly:   deps.ReadOnly,
		rowLimit:   deps.RowLimit,
		logger:     logger,
	}, nil
}

func (s *Service) Schema() schema.Schema {
	return s.schema
}

func (s *Service) SchemaText() string {
	return s.schemaText
}

// Translate stops after SQL extraction.
func (s *Service) Translate(ctx context.Context, question string) (nl2sql.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nl2sql.Result{}, &StageError{Stage: StageTranslate, Err: fmt.Errorf("question is required")}
	}
	if s.translator == nil {
		return nl2sql.Result{}, &StageError{Stage: StageTranslate, Err: ErrTranslatorUnavailable}
	}

	start := time.Now()
	result, err := s.translator.Translate(ctx, nl2sql.Request{Question: question, Schema: s.schemaText})
	observability.ObserveTranslation(result.Provider, err, time.Since(start))
	if err != nil {
		s.logger.Warn("translation failed",
			"trace_id", observability.TraceIDFromContext(ctx), "provider", result.Provider, "error", err)
		return result, &StageError{Stage: StageTranslate, Err: err}
	}
	s.logger.Debug("translated question",
		"trace_id", observability.TraceIDFromContext(ctx), "provider", result.Provider, "model", result.Model, "sql", result.SQL)
	return result, nil
}

// Execute runs sqlText without involving the model. A rowLimit of zero uses
// the service default.
func (s *Service) Execute(ctx context.Context, sqlText string, rowLimit int) (query.Result, error) {
	if s.readOnly {
		if err := sqlguard.ValidateReadOnly(sqlText); err != nil {
			return query.Result{}, &StageError{Stage: StageGuard, Err: err}
		}
	}
	if rowLimit <= 0 {
		rowLimit = s.rowLimit
	}

	start := time.Now()
	result, err := s.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: rowLimit})
	observability.ObserveQuery(len(result.Rows), err, time.Since(start))
	if err != nil {
		return query.Result{}, &StageError{Stage: StageExecute, Err: err}
	}
	return result, nil
}

// Ask answers one question. When execution fails the returned Answer still
// carries the generated SQL.
func (s *Service) Ask(ctx context.Context, question string, rowLimit int) (Answer, error) {
	answer := Answer{Question: strings.TrimSpace(question)}

	translated, err := s.Translate(ctx, question)
	answer.Provider = translated.Provider
	answer.Model = translated.Model
	if err != nil {
		return answer, err
	}
	answer.SQL = translated.SQL

	result, err := s.Execute(ctx, translated.SQL, rowLimit)
	if err != nil {
		return answer, err
	}
	answer.Result = result
	return answer, nil
}
